package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/speedmon/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		Addr:              "127.0.0.1:8080",
		AdminAPIKeys:      []string{"adm_0123456789abcdef"},
		PublicAPIKeys:     []string{"pub_0123456789abcdef"},
		DownloadURL:       "https://dl.example.com/10mb",
		UploadURL:         "https://ul.example.com/upload",
		ChunkSizeMB:       1,
		PayloadSizeMB:     10,
		MinAcceptableMbps: 50,
		AlertRecipient:    "ops@example.com",
		DailyAlertCap:     3,
		NotifyURL:         "https://mail.example.com/send",
		MonitorInterval:   time.Minute,
	}
}

func TestCheck_Passes(t *testing.T) {
	var out, errOut bytes.Buffer
	if !check(baseConfig(), &out, &errOut) {
		t.Fatalf("want pass; stderr:\n%s", errOut.String())
	}
	if !strings.Contains(out.String(), "preflight passed") {
		t.Fatalf("missing pass line:\n%s", out.String())
	}
}

func TestCheck_FailsOnInvalidConfigAndMissingNotifier(t *testing.T) {
	cfg := baseConfig()
	cfg.UploadURL = "ftp://nope"
	cfg.NotifyURL = ""

	var out, errOut bytes.Buffer
	if check(cfg, &out, &errOut) {
		t.Fatal("want failure")
	}
	for _, want := range []string{"UPLOAD_URL", "no notifier is configured"} {
		if !strings.Contains(errOut.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, errOut.String())
		}
	}
	if strings.Contains(out.String(), "preflight passed") {
		t.Fatal("must not report a pass")
	}
}

func TestCheck_WarnsOnlyWhenThresholdDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.MinAcceptableMbps = 0
	cfg.NotifyURL = ""

	var out, errOut bytes.Buffer
	if !check(cfg, &out, &errOut) {
		t.Fatalf("want pass; stderr:\n%s", errOut.String())
	}
	if !strings.Contains(errOut.String(), "alerts can never fire") {
		t.Fatalf("expected threshold warning:\n%s", errOut.String())
	}
}
