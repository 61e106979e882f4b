// Package gradeplatform scrapes the grading platform, which offers no API.
// Every request of a run goes through one Session that owns its cookies.
package gradeplatform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/duedeck/internal/domain"
)

const (
	// DefaultUserAgent is sent when none is configured.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	maxRedirects = 5
)

// The hidden form token appears with its attributes in either order.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name="authenticity_token"[^>]*value="([^"]+)"`),
	regexp.MustCompile(`value="([^"]+)"[^>]*name="authenticity_token"`),
}

// Session is a logged-in (or logging-in) conversation with the platform.
// Cookies are kept by name and merged from every response.
type Session struct {
	base      *url.URL
	userAgent string
	http      *http.Client

	mu  sync.Mutex
	jar map[string]string
}

// NewSession prepares a session against baseURL. Redirects are never
// followed automatically so the login response can be inspected.
func NewSession(baseURL, userAgent string, httpClient *http.Client) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse grading platform url: %w", err)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if httpClient != nil {
		copied := *httpClient
		client = &copied
	}
	client.Jar = nil
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Session{
		base:      base,
		userAgent: userAgent,
		http:      client,
		jar:       map[string]string{},
	}, nil
}

// Login signs in and returns the landing page HTML. A missing form token
// means the platform is unreachable; anything but a redirect away from the
// login page means the credentials were rejected.
func (s *Session) Login(ctx context.Context, email, password string) (string, error) {
	home, status, err := s.get(ctx, "/")
	if err != nil {
		return "", domain.UnreachableError("Could not reach the grading platform", err)
	}
	if status != http.StatusOK {
		return "", domain.UnreachableError("Could not reach the grading platform", fmt.Errorf("home page returned status %d", status))
	}
	token, ok := authenticityToken(home)
	if !ok {
		return "", domain.UnreachableError("Could not reach the grading platform", errors.New("login form token not found"))
	}

	form := url.Values{
		"utf8":                     {"✓"},
		"session[email]":           {email},
		"session[password]":        {password},
		"session[remember_me]":     {"0"},
		"commit":                   {"Log In"},
		"session[remember_me_sso]": {"0"},
		"authenticity_token":       {token},
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", s.base.String())

	resp, err := s.do(req)
	if err != nil {
		return "", domain.UnreachableError("Could not reach the grading platform", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || strings.Contains(location, "/login") {
		return "", domain.AuthError("Grading platform login failed. Reconnect it in settings.", nil)
	}
	if location == "" {
		location = "/account"
	}

	account, status, err := s.get(ctx, location)
	if err != nil {
		return "", domain.UnreachableError("Could not access the grading platform account page", err)
	}
	if status != http.StatusOK {
		return "", domain.UnreachableError("Could not access the grading platform account page", fmt.Errorf("account page returned status %d", status))
	}
	return account, nil
}

// CoursePage fetches the assignment listing of one platform course.
func (s *Session) CoursePage(ctx context.Context, courseID string) (string, error) {
	body, status, err := s.get(ctx, "/courses/"+url.PathEscape(courseID))
	if err != nil {
		return "", fmt.Errorf("failed to fetch course %s: %w", courseID, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("course %s returned status %d", courseID, status)
	}
	return body, nil
}

// AssignmentURL deep-links an assignment, or the course page when id is empty.
func (s *Session) AssignmentURL(courseID, assignmentID string) string {
	if assignmentID == "" {
		return fmt.Sprintf("%s/courses/%s", s.base, courseID)
	}
	return fmt.Sprintf("%s/courses/%s/assignments/%s", s.base, courseID, assignmentID)
}

// get fetches path, following redirects by hand so every hop's cookies land in the jar.
func (s *Session) get(ctx context.Context, path string) (string, int, error) {
	for hop := 0; hop <= maxRedirects; hop++ {
		req, err := s.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return "", 0, err
		}
		resp, err := s.do(req)
		if err != nil {
			return "", 0, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", 0, fmt.Errorf("failed to read %s: %w", path, err)
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode >= 300 && resp.StatusCode < 400 && location != "" {
			path = location
			continue
		}
		return string(body), resp.StatusCode, nil
	}
	return "", 0, fmt.Errorf("too many redirects fetching %s", path)
}

func (s *Session) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	return req, nil
}

// do sends req with the jar's cookies and merges back whatever the response
// sets. The jar only travels to the platform's own host.
func (s *Session) do(req *http.Request) (*http.Response, error) {
	own := req.URL.Host == s.base.Host
	if header := s.cookieHeader(); own && header != "" {
		req.Header.Set("Cookie", header)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if own {
		s.mergeCookies(resp.Cookies())
	}
	return resp, nil
}

func (s *Session) mergeCookies(cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		s.jar[c.Name] = c.Value
	}
}

func (s *Session) cookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jar))
	for name := range s.jar {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+s.jar[name])
	}
	return strings.Join(pairs, "; ")
}

func authenticityToken(html string) (string, bool) {
	for _, re := range tokenPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], true
		}
	}
	return "", false
}
