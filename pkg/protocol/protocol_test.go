package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every declared variant must survive the codec. Adding a variant without
// wiring it into EncodeX/DecodeX makes this test fail.
func TestCodec_AllVariants(t *testing.T) {
	requests := []Request{
		GetDirectoryList{},
		GetFileList{Directory: "onDevice"},
		GetFileContent{Directory: "iCloud", FileName: "a.txt"},
	}
	for _, req := range requests {
		data, err := EncodeRequest(req)
		require.NoError(t, err, req.Tag())
		got, err := DecodeRequest(data)
		require.NoError(t, err, req.Tag())
		assert.Equal(t, req, got)
	}

	preview := "first line"
	responses := []Response{
		DirectoryList{Directories: []DirectoryRef{{ID: "onDevice", Name: "On Device", Icon: "iphone"}}},
		FileList{
			Pinned:   []FileSummary{{ID: "onDevice/a.txt", Name: "a.txt", Icon: "doc.text", Preview: &preview, IsPinned: true}},
			Unpinned: []FileSummary{{ID: "onDevice/b.png", Name: "b.png", Icon: "photo"}},
		},
		FileContentResponse{Content: TextContent{Text: "hello"}},
		FileContentResponse{Content: ImageContent{Data: []byte{0xff, 0xd8, 0xff}}},
		FileContentResponse{Content: UnsupportedContent{}},
		ErrorResponse{Message: "Invalid directory"},
	}
	for _, resp := range responses {
		data, err := EncodeResponse(resp)
		require.NoError(t, err, resp.Tag())
		got, err := DecodeResponse(data)
		require.NoError(t, err, resp.Tag())
		assert.Equal(t, resp, got)
	}

	notifications := []Notification{DirectoryChanged{Directory: "onDevice"}}
	for _, n := range notifications {
		data, err := EncodeNotification(n)
		require.NoError(t, err)
		got, err := DecodeNotification(data)
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestCodec_EmptyTextIsText(t *testing.T) {
	data, err := EncodeResponse(FileContentResponse{Content: TextContent{Text: ""}})
	require.NoError(t, err)

	got, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, FileContentResponse{Content: TextContent{Text: ""}}, got)
}

func TestCodec_EmptyListsDecodeNonNil(t *testing.T) {
	data, err := EncodeResponse(FileList{})
	require.NoError(t, err)

	got, err := DecodeResponse(data)
	require.NoError(t, err)
	list := got.(FileList)
	assert.NotNil(t, list.Pinned)
	assert.NotNil(t, list.Unpinned)
	assert.Empty(t, list.Pinned)
}

func TestCodec_WireShape(t *testing.T) {
	data, err := EncodeRequest(GetFileContent{Directory: "onDevice", FileName: "note.txt"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"getFileContent","directory":"onDevice","fileName":"note.txt"}`, string(data))

	data, err = EncodeResponse(FileList{Unpinned: []FileSummary{{ID: "onDevice/x", Name: "x", Icon: "doc"}}})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, string(raw["unpinned"]), "preview")
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeRequest([]byte(`{"type":"deleteEverything"}`))
	assert.True(t, errors.Is(err, ErrUnknownVariant))
}

func TestDecodeResponse_Invalid(t *testing.T) {
	_, err := DecodeResponse([]byte(`{"type":"fileContent"}`))
	assert.Error(t, err)

	_, err = DecodeResponse([]byte(`{"type":"fileContent","content":{"kind":"video"}}`))
	assert.True(t, errors.Is(err, ErrUnknownVariant))
}

type bogusRequest struct{ GetDirectoryList }

func TestEncodeRequest_UnknownVariant(t *testing.T) {
	_, err := EncodeRequest(bogusRequest{})
	assert.True(t, errors.Is(err, ErrUnknownVariant))
}
