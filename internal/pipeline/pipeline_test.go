package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/config"
	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/inject"
	"github.com/sicyuan404/proxycast/internal/provider"
	"github.com/sicyuan404/proxycast/internal/ratelimit"
	"github.com/sicyuan404/proxycast/internal/routing"
	"github.com/sicyuan404/proxycast/internal/scheduler"
	"github.com/sicyuan404/proxycast/internal/telemetry"
	"github.com/sicyuan404/proxycast/internal/tokencache"
)

const testKind domain.CredentialKind = "test_pipeline_key"

type scriptedDriver struct {
	calls int
	fail  func(call int) error
}

func (d *scriptedDriver) Kinds() []domain.CredentialKind { return []domain.CredentialKind{testKind} }

func (d *scriptedDriver) Execute(ctx context.Context, w io.Writer, req *provider.Request) error {
	d.calls++
	if d.fail != nil {
		if err := d.fail(d.calls); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte(`{"ok":true}`))
	return err
}

func newTestPipeline(t *testing.T, driver *scriptedDriver) (*Pipeline, *credential.Store) {
	t.Helper()
	provider.Register(driver)

	store := credential.New(nil)
	require.NoError(t, store.Insert(&domain.Credential{
		UUID: "cred-1", Kind: testKind, IsHealthy: true, SubscriptionTier: "FREE",
		Payload: domain.CredentialPayload{APIKey: "sk-test"},
	}))

	cfg := config.Default()
	cfg.Routes = []domain.RoutingRule{{Pattern: "*", TargetProvider: testKind, Enabled: true}}

	tokens := tokencache.New(store)
	rateLimits := ratelimit.New(0, 0)
	sched := scheduler.New(rateLimits, scheduler.DefaultConfig())
	router := routing.New()
	injector := inject.New()

	p := New(cfg, store, tokens, rateLimits, sched, router, injector, telemetry.NopSink{})
	return p, store
}

func TestHandleSucceedsAndMarksCredentialHealthy(t *testing.T) {
	driver := &scriptedDriver{}
	p, store := newTestPipeline(t, driver)

	var out bytesWriter
	req := &Request{RequestID: "r1", ClientFormat: domain.FormatOpenAI, Model: "gpt-4o", Body: []byte(`{"messages":[{"role":"user","content":"please help me fix this bug"}]}`)}
	err := p.Handle(context.Background(), &out, req)
	require.NoError(t, err)
	assert.Equal(t, 1, driver.calls)
	assert.Contains(t, out.String(), "ok")

	cred := store.GetByUUID("cred-1")
	assert.True(t, cred.IsHealthy)
	assert.Equal(t, 1, cred.UsageCount)
}

func TestHandleMarksUnhealthyOnTransientUpstreamError(t *testing.T) {
	driver := &scriptedDriver{fail: func(int) error {
		return domain.NewProxyError(domain.ErrUpstreamTransient, errors.New("502"), true)
	}}
	p, store := newTestPipeline(t, driver)

	req := &Request{RequestID: "r2", ClientFormat: domain.FormatOpenAI, Model: "gpt-4o", Body: []byte(`{"messages":[{"role":"user","content":"please help me fix this bug"}]}`)}
	err := p.Handle(context.Background(), &bytesWriter{}, req)
	require.Error(t, err)

	cred := store.GetByUUID("cred-1")
	assert.Equal(t, 1, cred.ErrorCount)
}

func TestHandleNoAvailableCredentialReturnsNoCredentialError(t *testing.T) {
	driver := &scriptedDriver{}
	p, store := newTestPipeline(t, driver)
	store.GetByUUID("cred-1").IsDisabled = true

	req := &Request{RequestID: "r3", ClientFormat: domain.FormatOpenAI, Model: "gpt-4o", Body: []byte(`{}`)}
	err := p.Handle(context.Background(), &bytesWriter{}, req)
	require.Error(t, err)

	var perr *domain.ProxyError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.ErrNoCredential, perr.Kind)
}

type bytesWriter struct{ buf []byte }

func (b *bytesWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *bytesWriter) String() string { return string(b.buf) }
