package workflow

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

type fakeRow struct {
	err error
}

func (f fakeRow) Scan(dest ...any) error { return f.err }

func TestScanOne_TranslatesNoRowsToNotFound(t *testing.T) {
	_, err := scanOne(fakeRow{err: sql.ErrNoRows})

	assert.Equal(t, apierrors.KindNotFound, apierrors.KindOf(err))
}

func TestScanOne_WrapsOtherScanErrors(t *testing.T) {
	_, err := scanOne(fakeRow{err: errors.New("boom")})

	assert.Equal(t, apierrors.KindStorage, apierrors.KindOf(err))
}

func TestTranslatePQError_UniqueViolationIsNameConflict(t *testing.T) {
	err := translatePQError(&pq.Error{Code: "23505"})

	assert.Equal(t, apierrors.KindNameConflict, apierrors.KindOf(err))
}

func TestTranslatePQError_OtherErrorsAreStorage(t *testing.T) {
	err := translatePQError(errors.New("connection reset"))

	assert.Equal(t, apierrors.KindStorage, apierrors.KindOf(err))
}
