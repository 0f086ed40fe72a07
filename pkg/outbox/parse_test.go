package outbox

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	ident, err := ParseIdentifier(" public.grants_outbox ")
	require.NoError(t, err)
	require.Equal(t, pgx.Identifier{"public", "grants_outbox"}, ident)

	for _, bad := range []string{"", "a.b.c", "public.", "drop table;"} {
		_, err := ParseIdentifier(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, ErrInvalidConfig), bad)
	}
}

func TestParseIdentifierList(t *testing.T) {
	list, err := ParseIdentifierList("public.grants_outbox, ,audit_outbox")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "audit_outbox", TableLabel(list[1]))

	list, err = ParseIdentifierList("")
	require.NoError(t, err)
	require.Empty(t, list)
}
