package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

type stubSource struct {
	snapshot famauth.MetricsSnapshot
	dropped  uint64
}

func (s *stubSource) MetricsSnapshot() famauth.MetricsSnapshot { return s.snapshot }
func (s *stubSource) AuditDropped() uint64                     { return s.dropped }

func TestRenderExpositionText(t *testing.T) {
	source := &stubSource{
		snapshot: famauth.MetricsSnapshot{Counters: map[famauth.MetricID]uint64{
			famauth.MetricLoginSuccess: 42,
			famauth.MetricMFAReplay:    3,
		}},
		dropped: 7,
	}
	out := NewExporterFromSource(source).Render()

	for _, want := range []string{
		"# HELP famauth_login_success_total",
		"# TYPE famauth_login_success_total counter",
		"famauth_login_success_total 42\n",
		"famauth_mfa_replay_total 3\n",
		"famauth_registrations_total 0\n",
		"famauth_audit_dropped_total 7\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition text missing %q:\n%s", want, out)
		}
	}
}

func TestRenderNilExporter(t *testing.T) {
	var p *Exporter
	if got := p.Render(); got != "" {
		t.Fatalf("nil exporter rendered %q", got)
	}
}

func TestHandlerServesText(t *testing.T) {
	source := &stubSource{snapshot: famauth.MetricsSnapshot{Counters: map[famauth.MetricID]uint64{
		famauth.MetricSessionCreated: 5,
	}}}
	rec := httptest.NewRecorder()
	NewExporterFromSource(source).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "famauth_session_created_total 5") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
