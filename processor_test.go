package renamebot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testUserID int64 = 10
	testChatID int64 = 20
)

var (
	testMsgs = defaultMessages{}
	testReq  = Request{UserID: testUserID, ChatID: testChatID}
)

func newTestProcessor(t *testing.T, tr Transport, th Thumbnailer, optsFuncs ...func(*Options)) *Processor {
	t.Helper()

	opts := append([]func(*Options){
		WithConfig(Config{TempDir: t.TempDir()}),
		WithThumbnailer(th),
		WithLogger(noopLogger{}),
	}, optsFuncs...)

	p, err := NewProcessor(tr, opts...)
	require.NoError(t, err)

	return p
}

func testVideo(uniqueID, name string) *Attachment {
	return &Attachment{
		Kind:     AttachmentVideo,
		FileID:   "file-" + uniqueID,
		UniqueID: uniqueID,
		FileName: name,
		Size:     1024,
	}
}

func storedCount(t *testing.T, p *Processor, userID int64) (int64, bool) {
	t.Helper()
	rec, found, err := p.db.Find(context.Background(), userID)
	require.NoError(t, err)
	return rec.Count, found
}

func TestNewProcessor(t *testing.T) {
	t.Run("nil transport", func(t *testing.T) {
		_, err := NewProcessor(nil)
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewProcessor(&MockTransport{}, WithConfig(Config{FreemiumLimit: -1}))
		assert.Error(t, err)
	})
}

func TestProcessorHandleStart(t *testing.T) {
	ctx := context.Background()
	tr := &MockTransport{}
	tr.On("Send", mock.Anything, testChatID, testMsgs.Activated()).Return(nil).Twice()

	p := newTestProcessor(t, tr, &stubThumbnailer{})

	require.NoError(t, p.HandleStart(ctx, testReq))
	count, found := storedCount(t, p, testUserID)
	assert.True(t, found)
	assert.Equal(t, int64(0), count)

	_, err := p.db.IncrementCount(ctx, testUserID)
	require.NoError(t, err)

	require.NoError(t, p.HandleStart(ctx, testReq))
	count, _ = storedCount(t, p, testUserID)
	assert.Equal(t, int64(1), count, "second start must not reset counter")

	tr.AssertExpectations(t)
}

func TestProcessorHandleStart_StoreError(t *testing.T) {
	db := &MockUsersStorage{}
	db.On("EnsureUser", mock.Anything, testUserID).Return(false, errors.New("db is down"))
	tr := &MockTransport{}

	p := newTestProcessor(t, tr, &stubThumbnailer{}, WithUserDB(db))

	err := p.HandleStart(context.Background(), testReq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is down")
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessorHandleFile(t *testing.T) {
	ctx := context.Background()
	th := &stubThumbnailer{}
	tr := &MockTransport{}

	var (
		sent          Document
		existedOnSend bool
	)
	tr.On("Download", mock.Anything, *testVideo("AgAD1", "movie.mp4"), mock.Anything).Run(writeDst).Return(nil).Once()
	tr.On("SendDocument", mock.Anything, testChatID, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).(Document)
		existedOnSend = fileExists(sent.Path) && fileExists(sent.ThumbnailPath)
	}).Return(nil).Once()

	p := newTestProcessor(t, tr, th)

	for range 5 {
		_, err := p.db.IncrementCount(ctx, testUserID)
		require.NoError(t, err)
	}

	require.NoError(t, p.HandleFile(ctx, testReq, testVideo("AgAD1", "movie.mp4")))

	count, _ := storedCount(t, p, testUserID)
	assert.Equal(t, int64(6), count)

	assert.Equal(t, "006. movie.mp4", sent.FileName)
	assert.Equal(t, filepath.Join(p.tempDir, "temp_10_AgAD1"), sent.Path)
	assert.Equal(t, sent.Path+"_thumb.jpg", sent.ThumbnailPath)
	assert.True(t, existedOnSend)

	src, dst := th.lastCall()
	assert.Equal(t, sent.Path, src)
	assert.Equal(t, sent.ThumbnailPath, dst)

	assert.False(t, fileExists(sent.Path), "staged file must be removed")
	assert.False(t, fileExists(sent.ThumbnailPath), "thumbnail must be removed")

	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessorHandleFile_Document(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(writeDst).Return(nil)
	tr.On("SendDocument", mock.Anything, testChatID, mock.MatchedBy(func(d Document) bool {
		return d.FileName == "001. file"
	})).Return(nil).Once()

	p := newTestProcessor(t, tr, &stubThumbnailer{})

	doc := &Attachment{Kind: AttachmentDocument, FileID: "f", UniqueID: "u"}
	require.NoError(t, p.HandleFile(context.Background(), testReq, doc))

	tr.AssertExpectations(t)
}

func TestProcessorHandleFile_BeforeStart(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(writeDst).Return(nil)
	tr.On("SendDocument", mock.Anything, testChatID, mock.MatchedBy(func(d Document) bool {
		return d.FileName == "001. a.mkv"
	})).Return(nil).Once()

	p := newTestProcessor(t, tr, &stubThumbnailer{})

	require.NoError(t, p.HandleFile(context.Background(), testReq, testVideo("x", "a.mkv")))

	count, found := storedCount(t, p, testUserID)
	assert.True(t, found)
	assert.Equal(t, int64(1), count)
	tr.AssertExpectations(t)
}

func TestProcessorHandleFile_ThumbnailError(t *testing.T) {
	th := &stubThumbnailer{err: errors.New("Invalid data found when processing input")}
	tr := &MockTransport{}

	var sent Document
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(writeDst).Return(nil)
	tr.On("Send", mock.Anything, testChatID, "⚠️ Thumbnail error: Invalid data found when processing input").Return(nil).Once()
	tr.On("SendDocument", mock.Anything, testChatID, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).(Document)
	}).Return(nil).Once()

	p := newTestProcessor(t, tr, th, WithMetrics(MetricsConfig{Registry: newTestRegistry()}))

	require.NoError(t, p.HandleFile(context.Background(), testReq, testVideo("u1", "song.mp3")))

	assert.Equal(t, "001. song.mp3", sent.FileName)
	assert.Empty(t, sent.ThumbnailPath)
	assert.False(t, fileExists(sent.Path))
	assert.Equal(t, 1.0, counterValue(t, p.metr.thumbnailErrorsTotal))
	assert.Equal(t, 1.0, counterValue(t, p.metr.filesProcessedTotal))

	tr.AssertExpectations(t)
}

func TestProcessorHandleFile_WarningSendError(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(writeDst).Return(nil)
	tr.On("Send", mock.Anything, testChatID, mock.Anything).Return(errors.New("too many requests")).Once()
	tr.On("SendDocument", mock.Anything, testChatID, mock.Anything).Return(nil).Once()

	p := newTestProcessor(t, tr, &stubThumbnailer{err: errors.New("no frame")})

	assert.NoError(t, p.HandleFile(context.Background(), testReq, testVideo("u1", "a")))
	tr.AssertExpectations(t)
}

func TestProcessorHandleFile_Unsupported(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Send", mock.Anything, testChatID, testMsgs.Unsupported()).Return(nil).Twice()
	th := &stubThumbnailer{}

	p := newTestProcessor(t, tr, th)

	require.NoError(t, p.HandleFile(context.Background(), testReq, nil))
	require.NoError(t, p.HandleFile(context.Background(), testReq, &Attachment{Kind: "photo", FileID: "p"}))

	_, found := storedCount(t, p, testUserID)
	assert.False(t, found, "unsupported media must not create a record")

	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	tr.AssertNotCalled(t, "SendDocument", mock.Anything, mock.Anything, mock.Anything)

	src, _ := th.lastCall()
	assert.Empty(t, src)
}

func TestProcessorHandleFile_SequentialUploads(t *testing.T) {
	tr := &MockTransport{}

	var staged []string
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		writeDst(args)
		staged = append(staged, args.String(2))
	}).Return(nil).Twice()
	tr.On("Send", mock.Anything, testChatID, "⚠️ Thumbnail error: no video stream").Return(nil).Once()

	var docs []Document
	tr.On("SendDocument", mock.Anything, testChatID, mock.Anything).Run(func(args mock.Arguments) {
		docs = append(docs, args.Get(2).(Document))
	}).Return(nil).Twice()

	// first upload fails on thumbnail, second succeeds
	th := &stubThumbnailer{errs: []error{errors.New("no video stream"), nil}}
	p := newTestProcessor(t, tr, th)

	require.NoError(t, p.HandleFile(context.Background(), testReq, testVideo("first", "a.mp4")))
	require.NoError(t, p.HandleFile(context.Background(), testReq, testVideo("second", "b.mp4")))

	require.Len(t, staged, 2)
	assert.NotEqual(t, staged[0], staged[1])

	require.Len(t, docs, 2)
	assert.Equal(t, "001. a.mp4", docs[0].FileName)
	assert.Empty(t, docs[0].ThumbnailPath)
	assert.Equal(t, "002. b.mp4", docs[1].FileName)
	assert.Equal(t, staged[1]+thumbnailSuffix, docs[1].ThumbnailPath)

	for _, path := range staged {
		assert.False(t, fileExists(path), path)
		assert.False(t, fileExists(path+thumbnailSuffix), path+thumbnailSuffix)
	}
	tr.AssertExpectations(t)
}

func TestProcessorHandleFile_DownloadError(t *testing.T) {
	tr := &MockTransport{}

	var staged string
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// partial download
		writeDst(args)
		staged = args.String(2)
	}).Return(errors.New("connection reset")).Once()

	th := &stubThumbnailer{}
	p := newTestProcessor(t, tr, th)

	err := p.HandleFile(context.Background(), testReq, testVideo("u", "a.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	count, _ := storedCount(t, p, testUserID)
	assert.Equal(t, int64(1), count, "counter is not rolled back")
	assert.False(t, fileExists(staged))

	src, _ := th.lastCall()
	assert.Empty(t, src, "thumbnail must not be generated")
	tr.AssertNotCalled(t, "SendDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessorHandleFile_UploadError(t *testing.T) {
	tr := &MockTransport{}

	var sent Document
	tr.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(writeDst).Return(nil)
	tr.On("SendDocument", mock.Anything, testChatID, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).(Document)
	}).Return(errors.New("request entity too large")).Once()

	p := newTestProcessor(t, tr, &stubThumbnailer{})

	err := p.HandleFile(context.Background(), testReq, testVideo("u", "a.mp4"))
	require.Error(t, err)

	count, _ := storedCount(t, p, testUserID)
	assert.Equal(t, int64(1), count)
	assert.False(t, fileExists(sent.Path))
	assert.False(t, fileExists(sent.ThumbnailPath))
}

func TestProcessorHandleFile_IncrementError(t *testing.T) {
	db := &MockUsersStorage{}
	db.On("IncrementCount", mock.Anything, testUserID).Return(int64(0), errors.New("timeout"))
	tr := &MockTransport{}

	p := newTestProcessor(t, tr, &stubThumbnailer{}, WithUserDB(db))

	require.Error(t, p.HandleFile(context.Background(), testReq, testVideo("u", "a.mp4")))
	tr.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	db.AssertExpectations(t)
}

func TestProcessorHandleClear(t *testing.T) {
	ctx := context.Background()
	tr := &MockTransport{}
	tr.On("Send", mock.Anything, testChatID, testMsgs.Cleared()).Return(nil)

	p := newTestProcessor(t, tr, &stubThumbnailer{})

	t.Run("without record", func(t *testing.T) {
		require.NoError(t, p.HandleClear(ctx, testReq))

		_, found := storedCount(t, p, testUserID)
		assert.False(t, found, "clear must not create a record")

		cached, ok := p.CachedCount(testUserID)
		assert.True(t, ok)
		assert.Equal(t, int64(0), cached)
	})

	t.Run("with record", func(t *testing.T) {
		for range 3 {
			_, err := p.db.IncrementCount(ctx, testUserID)
			require.NoError(t, err)
		}

		require.NoError(t, p.HandleClear(ctx, testReq))
		count, found := storedCount(t, p, testUserID)
		assert.True(t, found)
		assert.Equal(t, int64(0), count)

		require.NoError(t, p.HandleClear(ctx, testReq))
		count, _ = storedCount(t, p, testUserID)
		assert.Equal(t, int64(0), count)
	})
}

func TestRenamedFileName(t *testing.T) {
	tests := []struct {
		count int64
		name  string
		want  string
	}{
		{1, "a.txt", "001. a.txt"},
		{7, "x", "007. x"},
		{6, "movie.mp4", "006. movie.mp4"},
		{999, "x", "999. x"},
		{1000, "x", "1000. x"},
		{12345, "report.pdf", "12345. report.pdf"},
		{3, "", "003. file"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RenamedFileName(tt.count, tt.name))
	}
}

func TestStagingPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp", "temp_5_AgADBQ"), stagingPath("/tmp", 5, "AgADBQ"))
	assert.Equal(t, filepath.Join("/tmp", "temp_5_.._.._etc"), stagingPath("/tmp", 5, "../../etc"))
	assert.Equal(t, filepath.Join("/tmp", "temp_5_a_b"), stagingPath("/tmp", 5, `a\b`))
}
