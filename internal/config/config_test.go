package config

import (
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.VerificationDurationTicks != 15 {
		t.Errorf("VerificationDurationTicks = %d, want 15", cfg.VerificationDurationTicks)
	}
	if cfg.VerificationTickSeconds != 1 {
		t.Errorf("VerificationTickSeconds = %d, want 1", cfg.VerificationTickSeconds)
	}
	if cfg.FeedWindow != 50 {
		t.Errorf("FeedWindow = %d, want 50", cfg.FeedWindow)
	}
	if cfg.SignupBonusCredits != 100 {
		t.Errorf("SignupBonusCredits = %d, want 100", cfg.SignupBonusCredits)
	}
	if cfg.PromotionEventExchange != "promotion.events" {
		t.Errorf("PromotionEventExchange = %q, want promotion.events", cfg.PromotionEventExchange)
	}
	if cfg.SettlementRedriveSchedule != "@every 1m" {
		t.Errorf("SettlementRedriveSchedule = %q, want @every 1m", cfg.SettlementRedriveSchedule)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("VERIFICATION_DURATION_TICKS", "30")
	t.Setenv("FEED_WINDOW", "25")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerPort != "9000" {
		t.Errorf("ServerPort = %q, want 9000", cfg.ServerPort)
	}
	if cfg.VerificationDurationTicks != 30 {
		t.Errorf("VerificationDurationTicks = %d, want 30", cfg.VerificationDurationTicks)
	}
	if cfg.FeedWindow != 25 {
		t.Errorf("FeedWindow = %d, want 25", cfg.FeedWindow)
	}
}

func TestLoadConfig_PlatformPortWins(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PORT", "7777")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerPort != "7777" {
		t.Errorf("ServerPort = %q, want platform port 7777", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesBadValues(t *testing.T) {
	t.Setenv("SIGNUP_BONUS_CREDITS", "-5")
	t.Setenv("FEED_WINDOW", "500")
	t.Setenv("VERIFICATION_TICK_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SignupBonusCredits != 0 {
		t.Errorf("SignupBonusCredits = %d, want 0", cfg.SignupBonusCredits)
	}
	if cfg.FeedWindow != 100 {
		t.Errorf("FeedWindow = %d, want cap of 100", cfg.FeedWindow)
	}
	if cfg.VerificationTickSeconds != 1 {
		t.Errorf("VerificationTickSeconds = %d, want 1", cfg.VerificationTickSeconds)
	}
}
