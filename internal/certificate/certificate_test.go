package certificate

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifier/assets"
	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/metrics"
	"certifier/internal/certificate/models"
	"certifier/internal/certificate/service"
	"certifier/internal/certificate/stamp"
	"certifier/internal/certificate/store"
	id "certifier/pkg/domain"
)

type passthroughRenderer struct{}

func (passthroughRenderer) PageCount(context.Context, []byte) (int, error) { return 1, nil }

func (passthroughRenderer) Render(_ context.Context, src []byte, _ stamp.Overlay) ([]byte, error) {
	return src, nil
}

func TestNew_RequiresCoreBackends(t *testing.T) {
	_, err := New(Backends{Blobs: blob.NewMemory(), Renderer: passthroughRenderer{}}, Config{}, nil, nil)
	require.Error(t, err)
}

func TestNew_ChecksStampFontAtStartup(t *testing.T) {
	renderer, err := stamp.NewPDFRenderer(filepath.Join(t.TempDir(), "fonts"))
	require.NoError(t, err)
	backends := func(fontName string) Backends {
		return Backends{
			Requests: store.NewInMemory(),
			Blobs:    blob.NewMemory(),
			Renderer: renderer,
			Assets: stamp.NewAssets(assets.FS, stamp.AssetPaths{
				Font:      assets.FontPath,
				FontName:  fontName,
				Checkmark: assets.CheckmarkPath,
			}),
		}
	}

	t.Run("misnamed font fails as missing asset", func(t *testing.T) {
		_, err := New(backends("NotoSans-Regular"), Config{}, nil, nil)
		require.ErrorIs(t, err, stamp.ErrAssetMissing)
	})

	t.Run("embedded default font is accepted", func(t *testing.T) {
		_, err := New(backends(assets.FontName), Config{}, nil, nil)
		require.NoError(t, err)
	})

	t.Run("absent font file does not block startup", func(t *testing.T) {
		b := backends(assets.FontName)
		b.Assets = stamp.NewAssets(fstest.MapFS{}, stamp.AssetPaths{Font: "missing.ttf", FontName: "Missing"})
		_, err := New(b, Config{}, nil, nil)
		require.NoError(t, err)
	})
}

func TestNew_WiresWorkingModule(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	mod, err := New(Backends{
		Requests: store.NewInMemory(),
		Blobs:    blobs,
		Lister:   blobs,
		Renderer: passthroughRenderer{},
		Assets:   stamp.NewAssets(fstest.MapFS{"f.ttf": {Data: []byte("ttf")}}, stamp.AssetPaths{Font: "f.ttf", FontName: "F"}),
	}, Config{MaxUploadBytes: 1 << 20, KeyAttempts: 3}, m, nil)
	require.NoError(t, err)
	require.NotNil(t, mod.Handler)

	r, err := mod.Service.Submit(ctx, service.SubmitCommand{
		ApplicantID:      id.UserID(uuid.New()),
		ApplicantName:    "Ada",
		ApplicantEmail:   "ada@example.com",
		CertificateType:  "Birth",
		OriginalFilename: "birth.pdf",
		Content:          []byte("%PDF-1.7\n"),
	})
	require.NoError(t, err)

	approved, err := mod.Service.Decide(ctx, service.DecideCommand{RequestID: r.ID, Status: "approved"})
	require.NoError(t, err)
	assert.Regexp(t, `^verified_[0-9a-f]{12}_`+regexp.QuoteMeta(r.DocumentKey)+`$`, approved.DocumentKey)

	files, err := mod.Service.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	require.NoError(t, mod.Backlog.Refresh(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(string(models.StatusApproved))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Requests.WithLabelValues(string(models.StatusPending))))
}
