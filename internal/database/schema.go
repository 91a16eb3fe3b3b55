// Package database manages the PostgreSQL connection pool and
// bootstraps the schema on startup.
package database

// Schema contains the SQL statements for the relay database. Applied
// idempotently at startup.
const Schema = `
-- saves: Story sessions owned by users. The duplex layer only reads this
-- table (ownership lookup); rows are created by the main application or
-- the mktoken dev CLI. deleted_at marks a soft delete: sessions for a
-- deleted save are refused but its stream data is kept.
CREATE TABLE IF NOT EXISTS saves (
    id          VARCHAR(255) PRIMARY KEY,
    user_id     VARCHAR(255) NOT NULL,
    title       VARCHAR(500) NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_saves_user ON saves(user_id);

-- streams: One row per (user, save) event log. next_seq is the 1-origin
-- counter for the next append; trimmed_upto_seq is the largest seq whose
-- event row may have been deleted. Invariant: trimmed_upto_seq < next_seq.
CREATE TABLE IF NOT EXISTS streams (
    user_id          VARCHAR(255) NOT NULL,
    save_id          VARCHAR(255) NOT NULL,
    next_seq         BIGINT NOT NULL DEFAULT 1,
    trimmed_upto_seq BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, save_id)
);

-- stream_events: The append-only log. Seqs are contiguous per stream;
-- rows with seq <= trimmed_upto_seq are deleted by ack-driven trimming.
-- payload is the canonical JSON the client receives, NULL when the frame
-- carries no body. JSON rather than JSONB: replay must return the exact
-- bytes that were appended, and JSONB rewrites key order.
CREATE TABLE IF NOT EXISTS stream_events (
    user_id      VARCHAR(255) NOT NULL,
    save_id      VARCHAR(255) NOT NULL,
    seq          BIGINT NOT NULL,
    frame_type   VARCHAR(50) NOT NULL,
    payload      JSON,
    ack_required BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, save_id, seq)
);

-- device_cursors: Per-device acknowledgement watermarks. last_acked_seq
-- never moves backward; the minimum across a stream's devices gates
-- trimming, so one silent device holds back the trim for all.
CREATE TABLE IF NOT EXISTS device_cursors (
    user_id        VARCHAR(255) NOT NULL,
    save_id        VARCHAR(255) NOT NULL,
    device_id      VARCHAR(255) NOT NULL,
    last_acked_seq BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, save_id, device_id)
);

-- llm_usage: One accounting row per chat stream execution, written after
-- the stream terminates (success, upstream error, or interrupt).
CREATE TABLE IF NOT EXISTS llm_usage (
    id                UUID PRIMARY KEY,
    user_id           VARCHAR(255) NOT NULL,
    save_id           VARCHAR(255) NOT NULL,
    provider          VARCHAR(50) NOT NULL,
    api               VARCHAR(50) NOT NULL,
    model             VARCHAR(100) NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    ended_at          TIMESTAMPTZ NOT NULL,
    latency_ms        BIGINT NOT NULL,
    ttft_ms           BIGINT,
    output_chunks     INT NOT NULL DEFAULT 0,
    output_chars      INT NOT NULL DEFAULT 0,
    interrupted       BOOLEAN NOT NULL DEFAULT FALSE,
    error             VARCHAR(500),
    prompt_tokens     INT,
    completion_tokens INT,
    total_tokens      INT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_llm_usage_user_save ON llm_usage(user_id, save_id);
`
