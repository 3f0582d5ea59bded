package upload

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k11v/nativebuild/internal/apiclient"
)

var _ Uploader = (*PresignedUploader)(nil)

// APIPoster is the part of apiclient.Client used to open upload sessions.
type APIPoster interface {
	Post(ctx context.Context, resource string, body any, v any) error
}

// PresignedPost is an upload session issued by the API.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// PresignedUploader asks the API for a presigned POST and sends the file to
// object storage with it.
type PresignedUploader struct {
	API        APIPoster    // required
	HTTPClient *http.Client // optional
}

func (u *PresignedUploader) httpClient() *http.Client {
	if u.HTTPClient == nil {
		return http.DefaultClient
	}
	return u.HTTPClient
}

// Upload implements Uploader.
func (u *PresignedUploader) Upload(ctx context.Context, kind Kind, localPath string) (string, error) {
	var post PresignedPost
	err := u.API.Post(ctx, "upload-sessions", map[string]string{"type": string(kind)}, &post)
	if err != nil {
		if apiErr := (*apiclient.APIError)(nil); errors.As(err, &apiErr) {
			return "", fmt.Errorf("upload.PresignedUploader: %w", rejectedError(err))
		}
		return "", fmt.Errorf("upload.PresignedUploader: %w", transportError(err))
	}
	if post.URL == "" || post.Fields["key"] == "" {
		return "", fmt.Errorf("upload.PresignedUploader: %w", rejectedError(errors.New("upload session has no url or key")))
	}
	base, err := url.Parse(post.URL)
	if err != nil {
		return "", fmt.Errorf("upload.PresignedUploader: %w", rejectedError(err))
	}

	if err = u.post(ctx, &post, localPath); err != nil {
		return "", fmt.Errorf("upload.PresignedUploader: %w", err)
	}

	return base.JoinPath(post.Fields["key"]).String(), nil
}

// post sends the file as the last part of a multipart form. The body length is
// known upfront because object storage refuses chunked POST uploads.
func (u *PresignedUploader) post(ctx context.Context, post *PresignedPost, localPath string) error {
	openFile, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer openFile.Close()
	info, err := openFile.Stat()
	if err != nil {
		return err
	}

	head := new(bytes.Buffer)
	mw := multipart.NewWriter(head)
	names := make([]string, 0, len(post.Fields))
	for name := range post.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err = mw.WriteField(name, post.Fields[name]); err != nil {
			return err
		}
	}
	if _, err = mw.CreateFormFile("file", filepath.Base(localPath)); err != nil {
		return err
	}
	tail := "\r\n--" + mw.Boundary() + "--\r\n"

	body := io.MultiReader(head, openFile, strings.NewReader(tail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, post.URL, body)
	if err != nil {
		return transportError(err)
	}
	req.ContentLength = int64(head.Len()) + info.Size() + int64(len(tail))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient().Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return storageError(resp)
	}
	return nil
}

// storageError converts an object storage error response.
func storageError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var s3Err struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	if xml.Unmarshal(data, &s3Err) == nil && s3Err.Code != "" {
		err := fmt.Errorf("storage responded %d %s: %s", resp.StatusCode, s3Err.Code, s3Err.Message)
		if s3Err.Code == "EntityTooLarge" {
			return errors.Join(ErrRejected, ErrFileTooLarge, err)
		}
		return rejectedError(err)
	}
	return rejectedError(fmt.Errorf("storage responded %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
}
