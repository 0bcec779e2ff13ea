package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollouts.
// Supports per-account targeting, percentage rollout, and time windows.
//
// Product stance: the story map should feel calm, not gamified. Flags that
// add pressure (countdown badges, streak nudges) default off and roll out
// slowly after review with the content team.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	accountOverrides map[string]map[string]bool // accountID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Accounts are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// A/B test variant (for experiments)
	Variants []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	AccountID string // parent account UUID
	IsAdmin   bool   // internal/admin account
}

// Predefined feature flag names.
const (
	// === Story Map Features ===
	FeatureMapWeekProgress  = "map.week_progress"  // per-week progress bars
	FeatureMapCountdown     = "map.countdown"      // "Next story in 23h 59m" card
	FeatureMapRewardPreview = "map.reward_preview" // silhouette of locked reward

	// === Notification Features ===
	FeatureNotifyStoryUnlocked  = "notify.story_unlocked"  // cooldown elapsed
	FeatureNotifyRewardUnlocked = "notify.reward_unlocked" // week reward earned
	FeatureNotifyWeekCompleted  = "notify.week_completed"  // all three stories done
	FeatureNotifyTrialEnding    = "notify.trial_ending"    // trial expiry reminder

	// === Playback Features ===
	FeaturePlaybackOfflineCache = "playback.offline_cache" // pre-download next story
	FeaturePlaybackSleepTimer   = "playback.sleep_timer"   // auto-stop at chapter end

	// === Experimental Features ===
	FeatureExperimentalSiblingMap = "experimental.sibling_map" // shared family map view
	FeatureExperimentalAnalytics  = "experimental.analytics"   // listening analytics
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		accountOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Story map features
	ff.features[FeatureMapWeekProgress] = &Feature{
		Name:           FeatureMapWeekProgress,
		Description:    "Show per-week progress bars on the map",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureMapCountdown] = &Feature{
		Name:           FeatureMapCountdown,
		Description:    "Show the unlock countdown on locked story cards",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureMapRewardPreview] = &Feature{
		Name:           FeatureMapRewardPreview,
		Description:    "Show a silhouette of the locked weekly reward",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout
	}

	// Notification features - carefully tuned to avoid spamming parents
	ff.features[FeatureNotifyStoryUnlocked] = &Feature{
		Name:           FeatureNotifyStoryUnlocked,
		Description:    "Push when a cooldown elapses and a story opens",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyRewardUnlocked] = &Feature{
		Name:           FeatureNotifyRewardUnlocked,
		Description:    "Push when a weekly reward unlocks",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyWeekCompleted] = &Feature{
		Name:           FeatureNotifyWeekCompleted,
		Description:    "Push when the last story of a week is finished",
		Enabled:        false, // overlaps with reward push, off by default
		RolloutPercent: 0,
	}

	ff.features[FeatureNotifyTrialEnding] = &Feature{
		Name:           FeatureNotifyTrialEnding,
		Description:    "Remind parents before the trial expires",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Playback features
	ff.features[FeaturePlaybackOfflineCache] = &Feature{
		Name:           FeaturePlaybackOfflineCache,
		Description:    "Pre-download the next available story",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePlaybackSleepTimer] = &Feature{
		Name:           FeaturePlaybackSleepTimer,
		Description:    "Stop playback at the end of the current chapter",
		Enabled:        false, // Phase 2
		RolloutPercent: 0,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalSiblingMap] = &Feature{
		Name:           FeatureExperimentalSiblingMap,
		Description:    "Shared map view across sibling profiles",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureExperimentalAnalytics] = &Feature{
		Name:           FeatureExperimentalAnalytics,
		Description:    "Listening analytics for parents",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_MAP_REWARD_PREVIEW=true
// Example: FEATURE_NOTIFY_TRIAL_ENDING=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "map.reward_preview" -> "FEATURE_MAP_REWARD_PREVIEW"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check account overrides first
	if ctx != nil && ctx.AccountID != "" {
		if overrides, ok := ff.accountOverrides[ctx.AccountID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin accounts get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.AccountID != "" {
		return ff.isInRollout(ctx.AccountID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if an account is in the rollout percentage.
// Uses consistent hashing so accounts stay in their bucket.
func (ff *FeatureFlags) isInRollout(accountID, featureName string, percent int) bool {
	// Create a consistent hash for this account+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(accountID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// GetVariant returns the A/B test variant for an account.
// Returns empty string if no variants defined or feature disabled.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !ff.IsEnabled(featureName, ctx) {
		return ""
	}

	if len(feature.Variants) == 0 || ctx == nil {
		return ""
	}

	// Use consistent hashing to assign variant
	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(ctx.AccountID))
	hash := h.Sum32()

	variantIndex := int(hash % uint32(len(feature.Variants)))
	return feature.Variants[variantIndex]
}

// SetAccountOverride sets a feature override for a specific account.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetAccountOverride(accountID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.accountOverrides[accountID]; !ok {
		ff.accountOverrides[accountID] = make(map[string]bool)
	}
	ff.accountOverrides[accountID][featureName] = enabled
}

// ClearAccountOverrides removes all overrides for an account.
func (ff *FeatureFlags) ClearAccountOverrides(accountID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.accountOverrides, accountID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// UnlockPushesEnabled checks if any unlock-related pushes are enabled.
func (ff *FeatureFlags) UnlockPushesEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureNotifyStoryUnlocked, ctx) ||
		ff.IsEnabled(FeatureNotifyRewardUnlocked, ctx) ||
		ff.IsEnabled(FeatureNotifyWeekCompleted, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
