package mou

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	valid := MOU{
		WorkplanIDs: []uuid.UUID{id, uuid.New()},
		PartnerName: "Kassala ERR",
		StartDate:   start,
		EndDate:     start,
	}
	require.NoError(t, valid.Validate())

	empty := valid
	empty.WorkplanIDs = nil
	require.ErrorIs(t, empty.Validate(), ErrNoWorkplans)

	dup := valid
	dup.WorkplanIDs = []uuid.UUID{id, id}
	require.ErrorIs(t, dup.Validate(), ErrDuplicate)

	noPartner := valid
	noPartner.PartnerName = "  "
	require.ErrorIs(t, noPartner.Validate(), ErrPartnerRequired)

	backwards := valid
	backwards.EndDate = start.AddDate(0, 0, -1)
	require.ErrorIs(t, backwards.Validate(), ErrInvalidDateRange)
}

func TestCode(t *testing.T) {
	code, err := Code([]string{"ECH-KAS-0324-0001-004", "ECH-KAS-0324-0001-002"})
	require.NoError(t, err)
	require.Equal(t, "MOU-ECH-KAS-0324-0001-002", code)

	_, err = Code(nil)
	require.ErrorIs(t, err, ErrNoWorkplans)
	_, err = Code([]string{"", "ECH-KAS-0324-0001-001"})
	require.ErrorIs(t, err, ErrMissingSerial)
}
