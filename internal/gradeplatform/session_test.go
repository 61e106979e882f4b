package gradeplatform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/duedeck/internal/domain"
)

const homePage = `<html><form action="/login" method="post">
<input type="hidden" name="authenticity_token" value="tok-123" />
</form></html>`

// fakePlatform serves a home page, a login endpoint and an account page.
// loginStatus and loginLocation decide how the login POST answers.
func fakePlatform(t *testing.T, loginStatus int, loginLocation string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var accountHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_platform_session", Value: "anon"})
		w.Write([]byte(homePage))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("_platform_session")
		if err != nil || cookie.Value != "anon" || r.FormValue("authenticity_token") != "tok-123" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		if r.FormValue("session[email]") != "jdoe@example.edu" || r.FormValue("session[password]") != "hunter2" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "_platform_session", Value: "authed"})
		http.SetCookie(w, &http.Cookie{Name: "signed_token", Value: "sig"})
		if loginLocation != "" {
			w.Header().Set("Location", loginLocation)
		}
		w.WriteHeader(loginStatus)
	})
	mux.HandleFunc("GET /account", func(w http.ResponseWriter, r *http.Request) {
		accountHits.Add(1)
		session, err := r.Cookie("_platform_session")
		signed, err2 := r.Cookie("signed_token")
		if err != nil || err2 != nil || session.Value != "authed" || signed.Value != "sig" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.Write([]byte(accountPage))
	})
	mux.HandleFunc("GET /courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("_platform_session"); err != nil || c.Value != "authed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("id") == "404" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(studentTable))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &accountHits
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("redirect away from login succeeds", func(t *testing.T) {
		srv, _ := fakePlatform(t, http.StatusFound, "/account")
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)

		page, err := s.Login(ctx, "jdoe@example.edu", "hunter2")
		require.NoError(t, err)
		assert.Contains(t, page, "courseBox--shortname")

		course, err := s.CoursePage(ctx, "501")
		require.NoError(t, err)
		assert.Contains(t, course, "Lab 1")

		_, err = s.CoursePage(ctx, "404")
		assert.Error(t, err)
	})

	t.Run("missing location defaults to account", func(t *testing.T) {
		srv, hits := fakePlatform(t, http.StatusFound, "")
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)
		_, err = s.Login(ctx, "jdoe@example.edu", "hunter2")
		require.NoError(t, err)
		assert.EqualValues(t, 1, hits.Load())
	})

	t.Run("redirect back to login is rejected", func(t *testing.T) {
		srv, hits := fakePlatform(t, http.StatusFound, "/account")
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)

		_, err = s.Login(ctx, "jdoe@example.edu", "wrong")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrAuth))
		assert.Zero(t, hits.Load())
	})

	t.Run("non redirect is rejected", func(t *testing.T) {
		srv, _ := fakePlatform(t, http.StatusOK, "")
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)

		_, err = s.Login(ctx, "jdoe@example.edu", "hunter2")
		assert.True(t, errors.Is(err, domain.ErrAuth))
	})

	t.Run("cookies stay on the platform host", func(t *testing.T) {
		var leaked atomic.Value
		leaked.Store("")
		foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			leaked.Store(r.Header.Get("Cookie"))
			http.SetCookie(w, &http.Cookie{Name: "_platform_session", Value: "foreign"})
			w.Write([]byte(accountPage))
		}))
		t.Cleanup(foreign.Close)

		srv, _ := fakePlatform(t, http.StatusFound, foreign.URL+"/landing")
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)
		_, _ = s.Login(ctx, "jdoe@example.edu", "hunter2")
		assert.Empty(t, leaked.Load())

		course, err := s.CoursePage(ctx, "501")
		require.NoError(t, err)
		assert.Contains(t, course, "Lab 1")
	})

	t.Run("missing form token is unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>maintenance</html>`))
		}))
		t.Cleanup(srv.Close)
		s, err := NewSession(srv.URL, "", srv.Client())
		require.NoError(t, err)

		_, err = s.Login(ctx, "jdoe@example.edu", "hunter2")
		assert.True(t, errors.Is(err, domain.ErrUnreachableSource))
	})
}

func TestAuthenticityToken(t *testing.T) {
	token, ok := authenticityToken(`<input value="abc" type="hidden" name="authenticity_token">`)
	require.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = authenticityToken(`<input name="other" value="abc">`)
	assert.False(t, ok)
}

func TestAssignmentURL(t *testing.T) {
	s, err := NewSession("https://grading.example.com/", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://grading.example.com/courses/501/assignments/9", s.AssignmentURL("501", "9"))
	assert.Equal(t, "https://grading.example.com/courses/501", s.AssignmentURL("501", ""))
}
