package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create curriculum tables
-- Version: 001

-- One row per published curriculum version. Only one version is live at a
-- time; publishing flips is_published atomically.
CREATE TABLE IF NOT EXISTS curriculum_versions (
    version VARCHAR(50) PRIMARY KEY,
    published_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    is_published BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_curriculum_one_published
    ON curriculum_versions(is_published) WHERE is_published;

CREATE TABLE IF NOT EXISTS curriculum_blocks (
    version VARCHAR(50) NOT NULL REFERENCES curriculum_versions(version) ON DELETE CASCADE,
    id VARCHAR(100) NOT NULL,
    title VARCHAR(200) NOT NULL,
    order_idx INTEGER NOT NULL,

    PRIMARY KEY (version, id),
    CONSTRAINT valid_block_order CHECK (order_idx > 0)
);

CREATE TABLE IF NOT EXISTS curriculum_months (
    version VARCHAR(50) NOT NULL,
    id VARCHAR(100) NOT NULL,
    block_id VARCHAR(100) NOT NULL,
    title VARCHAR(200) NOT NULL,
    order_idx INTEGER NOT NULL,

    PRIMARY KEY (version, id),
    FOREIGN KEY (version, block_id) REFERENCES curriculum_blocks(version, id) ON DELETE CASCADE,
    CONSTRAINT valid_month_order CHECK (order_idx > 0)
);

CREATE TABLE IF NOT EXISTS curriculum_weeks (
    version VARCHAR(50) NOT NULL,
    id VARCHAR(100) NOT NULL,
    month_id VARCHAR(100) NOT NULL,
    title VARCHAR(200) NOT NULL,
    order_idx INTEGER NOT NULL,
    reward_asset_key VARCHAR(255) NOT NULL DEFAULT '',

    PRIMARY KEY (version, id),
    FOREIGN KEY (version, month_id) REFERENCES curriculum_months(version, id) ON DELETE CASCADE,
    CONSTRAINT valid_week_order CHECK (order_idx > 0)
);

CREATE TABLE IF NOT EXISTS curriculum_stories (
    version VARCHAR(50) NOT NULL,
    id VARCHAR(100) NOT NULL,
    week_id VARCHAR(100) NOT NULL,
    title VARCHAR(200) NOT NULL,
    day_slot INTEGER NOT NULL,
    audio_asset_key VARCHAR(255) NOT NULL DEFAULT '',

    PRIMARY KEY (version, id),
    FOREIGN KEY (version, week_id) REFERENCES curriculum_weeks(version, id) ON DELETE CASCADE,
    CONSTRAINT valid_day_slot CHECK (day_slot IN (1, 3, 5)),
    UNIQUE (version, week_id, day_slot)
);

CREATE INDEX IF NOT EXISTS idx_curriculum_stories_week ON curriculum_stories(version, week_id);
`

const migration001Down = `
DROP TABLE IF EXISTS curriculum_stories;
DROP TABLE IF EXISTS curriculum_weeks;
DROP TABLE IF EXISTS curriculum_months;
DROP TABLE IF EXISTS curriculum_blocks;
DROP TABLE IF EXISTS curriculum_versions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACCOUNTS AND PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create accounts, child profiles and notifications
-- Version: 002

CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(100) NOT NULL,
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    subscription_state VARCHAR(20) NOT NULL DEFAULT 'trial',
    subscription_expires_at TIMESTAMP WITH TIME ZONE,
    subscription_provider_ref VARCHAR(100) NOT NULL DEFAULT '',
    subscription_synced_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_subscription_state
        CHECK (subscription_state IN ('trial', 'active', 'lapsed', 'canceled'))
);

CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
-- The entitlement sweep scans for not-yet-lapsed accounts running out.
CREATE INDEX IF NOT EXISTS idx_accounts_expiring
    ON accounts(subscription_expires_at)
    WHERE subscription_state IN ('trial', 'active');

CREATE TABLE IF NOT EXISTS child_profiles (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name VARCHAR(60) NOT NULL,
    birth_year INTEGER NOT NULL DEFAULT 0,
    override_granted BOOLEAN NOT NULL DEFAULT FALSE,
    override_reason VARCHAR(255) NOT NULL DEFAULT '',
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_child_profiles_account ON child_profiles(account_id);

CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    child_id UUID REFERENCES child_profiles(id) ON DELETE SET NULL,
    type VARCHAR(30) NOT NULL,
    channel VARCHAR(20) NOT NULL,
    subject VARCHAR(255) NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    dedupe_key VARCHAR(255) NOT NULL UNIQUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    sent_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_notification_status
        CHECK (status IN ('pending', 'sent', 'failed', 'suppressed'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id, created_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS notifications;
DROP TABLE IF EXISTS child_profiles;
DROP TABLE IF EXISTS accounts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: PROGRESS LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create completion ledger
-- Version: 003

-- One row per (child, story). The composite primary key is what makes
-- concurrent completions of the same story collapse to a single entry.
CREATE TABLE IF NOT EXISTS completions (
    child_id UUID NOT NULL REFERENCES child_profiles(id) ON DELETE CASCADE,
    story_id VARCHAR(100) NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (child_id, story_id)
);

CREATE INDEX IF NOT EXISTS idx_completions_child ON completions(child_id, completed_at DESC);
-- The unlock notification job scans recent completions across children.
CREATE INDEX IF NOT EXISTS idx_completions_recent ON completions(completed_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS completions;
`

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_curriculum",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_accounts",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_completions",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
