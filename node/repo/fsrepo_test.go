package repo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func genFsRepo(t *testing.T, secret []byte) *FsRepo {
	repo, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.Init("connector-1", secret))
	return repo
}

func TestFsBasic(t *testing.T) {
	repo := genFsRepo(t, []byte("shared"))
	require.ErrorIs(t, repo.Init("connector-1", nil), ErrRepoExists)

	_, err := repo.APIEndpoint()
	require.ErrorIs(t, err, ErrNoAPIEndpoint)

	lr, err := repo.Lock()
	require.NoError(t, err)

	_, err = repo.Lock()
	require.Error(t, err)

	cfg, err := lr.Config()
	require.NoError(t, err)
	require.Equal(t, "connector-1", cfg.ParticipantID)
	require.NoError(t, cfg.Validate())

	secret, err := lr.TokenSecret()
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), secret)

	apiSecret, err := lr.APISecret()
	require.NoError(t, err)
	require.Len(t, apiSecret, secretSize)

	require.NoError(t, lr.SetAPIEndpoint("127.0.0.1:1234"))
	require.NoError(t, lr.SetAPIToken([]byte("admin-token")))
	token, err := repo.APIToken()
	require.NoError(t, err)
	require.Equal(t, []byte("admin-token"), token)
	addr, err := repo.APIEndpoint()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:1234", addr)

	require.NoError(t, lr.Close())
	_, err = lr.Config()
	require.ErrorIs(t, err, ErrClosedRepo)
	_, err = repo.APIEndpoint()
	require.ErrorIs(t, err, ErrNoAPIEndpoint)
	_, err = repo.APIToken()
	require.ErrorIs(t, err, ErrNoAPIToken)

	lr, err = repo.Lock()
	require.NoError(t, err)
	require.NoError(t, lr.Close())
}

func TestGeneratedSecret(t *testing.T) {
	repo := genFsRepo(t, nil)
	lr, err := repo.Lock()
	require.NoError(t, err)
	defer lr.Close() //nolint:errcheck

	secret, err := lr.TokenSecret()
	require.NoError(t, err)
	require.Len(t, secret, secretSize)
}
