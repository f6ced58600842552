package provider

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
)

type stubDriver struct{ kinds []domain.CredentialKind }

func (s *stubDriver) Kinds() []domain.CredentialKind { return s.kinds }
func (s *stubDriver) Execute(ctx context.Context, w io.Writer, req *Request) error { return nil }

func TestRegisterAndLookupBindsEveryDeclaredKind(t *testing.T) {
	d := &stubDriver{kinds: []domain.CredentialKind{"test_kind_a", "test_kind_b"}}
	Register(d)

	got, err := Lookup("test_kind_a")
	require.NoError(t, err)
	assert.Same(t, d, got)

	got, err = Lookup("test_kind_b")
	require.NoError(t, err)
	assert.Same(t, d, got)
}

func TestLookupUnknownKindErrors(t *testing.T) {
	_, err := Lookup("no_such_kind")
	assert.Error(t, err)
}
