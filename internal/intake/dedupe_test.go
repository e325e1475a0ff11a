package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupe_FirstOccurrenceWins(t *testing.T) {
	rows := []Row{
		{Email: "A@x.com"},
		{Email: "a@x.com", Fields: map[string]string{"first_name": "Y"}},
	}

	kept, dropped := Dedupe(rows)
	require.Len(t, kept, 1)
	assert.Equal(t, 1, dropped)
	// The first row survives, including its (empty) fields.
	assert.Equal(t, "A@x.com", kept[0].Email)
	assert.Empty(t, kept[0].Fields)
}

func TestDedupe_CaseAndWhitespace(t *testing.T) {
	rows := []Row{
		{Email: "  alice@gmail.com "},
		{Email: "ALICE@GMAIL.COM"},
		{Email: "alice@gmail.com"},
		{Email: "bob@gmail.com"},
	}

	kept, dropped := Dedupe(rows)
	require.Len(t, kept, 2)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "  alice@gmail.com ", kept[0].Email)
	assert.Equal(t, "bob@gmail.com", kept[1].Email)
}

func TestDedupe_PreservesOrder(t *testing.T) {
	rows := []Row{
		{Email: "c@x.com"},
		{Email: "a@x.com"},
		{Email: "b@x.com"},
	}

	kept, dropped := Dedupe(rows)
	require.Len(t, kept, 3)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, "c@x.com", kept[0].Email)
	assert.Equal(t, "a@x.com", kept[1].Email)
	assert.Equal(t, "b@x.com", kept[2].Email)
}

func TestDedupe_Empty(t *testing.T) {
	kept, dropped := Dedupe(nil)
	assert.Empty(t, kept)
	assert.Equal(t, 0, dropped)
}
