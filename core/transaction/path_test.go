package transaction_test

import (
	"errors"
	"testing"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr error
	}{
		{"/", "/", nil},
		{"/data/f1", "/data/f1", nil},
		{"/data/dir/", "/data/dir", nil},
		{"/données/été.txt", "/données/été.txt", nil},
		{"/a/../b", "", coreerrors.ErrPathInStoreCantBeRelative},
		{"..", "", coreerrors.ErrPathInStoreCantBeRelative},
		{"data/f1", "", coreerrors.ErrPathNotStartWithRoot},
		{"", "", coreerrors.ErrPathNotStartWithRoot},
		{"/a/b*c", "", coreerrors.ErrPathInvalid},
		{"/a/ b", "", coreerrors.ErrPathInvalid},
		{"/a/b.", "", coreerrors.ErrPathInvalid},
		{"/a/.hidden", "", coreerrors.ErrPathInvalid},
		{"/a//b", "", coreerrors.ErrPathInvalid},
		{"/a/b\x01", "", coreerrors.ErrPathInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := transaction.ValidatePath(transaction.KindRead, tt.path)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatePath_RelativeReportedBeforeRoot(t *testing.T) {
	_, err := transaction.ValidatePath(transaction.KindWrite, "../a*b")
	assert.ErrorIs(t, err, coreerrors.ErrPathInStoreCantBeRelative)

	_, err = transaction.ValidatePath(transaction.KindWrite, "a*b")
	assert.ErrorIs(t, err, coreerrors.ErrPathNotStartWithRoot)
}
