package storage

const schema = `
-- 'users' holds identity plus the sealed (ciphertext, iv) pairs for both platforms.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    lms_token_encrypted TEXT,
    lms_token_iv TEXT,
    grading_password_encrypted TEXT,
    grading_password_iv TEXT,
    grading_connected INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

-- 'courses' are keyed upstream by the LMS course id; at most one per (user, lms id).
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    lms_course_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    short_name TEXT,
    grading_course_id TEXT,
    syllabus_parsed INTEGER NOT NULL DEFAULT 0,
    last_synced_at DATETIME,
    created_at DATETIME NOT NULL,

    UNIQUE (user_id, lms_course_id),
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS recurring_rules (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    title TEXT NOT NULL,
    day_of_week INTEGER NOT NULL,
    type TEXT NOT NULL,
    platform TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    created_at DATETIME NOT NULL,

    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    title TEXT NOT NULL,
    due_date TEXT,
    due_time TEXT,
    type TEXT NOT NULL DEFAULT 'other',
    platform TEXT NOT NULL DEFAULT 'unknown',
    points REAL,
    status TEXT NOT NULL DEFAULT 'pending',
    source TEXT NOT NULL,
    notes TEXT,
    parse_confidence TEXT,
    recurring_rule_id TEXT,
    external_url TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,

    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE,
    FOREIGN KEY(recurring_rule_id) REFERENCES recurring_rules(id) ON DELETE CASCADE
);

-- Synced feeds de-duplicate on title within (user, course, source).
-- Syllabus, manual and recurring rows are allowed to repeat titles.
CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_synced_identity
    ON assignments (user_id, course_id, source, title)
    WHERE source IN ('lms', 'grading_platform');

CREATE INDEX IF NOT EXISTS idx_assignments_user_due ON assignments (user_id, due_date);

-- 'syllabi' is one upload slot per (user, course); re-upload overwrites it.
CREATE TABLE IF NOT EXISTS syllabi (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    parsed_at DATETIME,
    raw_response TEXT,
    created_at DATETIME NOT NULL,

    UNIQUE (user_id, course_id),
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);
`

// upsertWhere matches the partial index above and must stay in sync with it.
const upsertWhere = `source IN ('lms', 'grading_platform')`
