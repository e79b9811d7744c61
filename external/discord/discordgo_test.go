package discord

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient("test-token", "channel-1")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	c.session.Client = &http.Client{Transport: rt}
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestNewClient_DisabledWithoutToken(t *testing.T) {
	c, err := NewClient("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Enabled() {
		t.Fatal("client without token must be disabled")
	}
	if err := c.SendChannelMessageWithFile(discordpkg.FileMessage{Filename: "a.txt"}); err != nil {
		t.Fatalf("disabled client must not fail: %v", err)
	}
}

func TestSendChannelMessageWithFile_PostsMultipart(t *testing.T) {
	var gotPath, gotFilename, gotBody string
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("invalid content type: %v", err)
			return jsonResponse(http.StatusBadRequest, `{}`), nil
		}
		reader := multipart.NewReader(req.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			if part.FileName() != "" {
				gotFilename = part.FileName()
				b, _ := io.ReadAll(part)
				gotBody = string(b)
			}
		}
		return jsonResponse(http.StatusOK, `{"id":"m1","channel_id":"channel-1"}`), nil
	})

	err := c.SendChannelMessageWithFile(discordpkg.FileMessage{
		Content:  "transcript",
		Filename: "transcript-1.txt",
		FileBody: []byte("00:00:01 hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/channels/channel-1/messages") {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
	if gotFilename != "transcript-1.txt" || gotBody != "00:00:01 hello" {
		t.Fatalf("unexpected attachment: %s %q", gotFilename, gotBody)
	}
}

func TestSendChannelMessageWithFile_UnknownChannel(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown Channel","code":10003}`), nil
	})

	err := c.SendChannelMessageWithFile(discordpkg.FileMessage{ChannelID: "gone", Filename: "a.txt"})
	if err == nil || !strings.Contains(err.Error(), "discord channel gone not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !isRESTNotFound(err) {
		t.Fatalf("error chain lost the REST error: %v", err)
	}
}
