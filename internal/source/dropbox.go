package source

import (
	"context"
	"fmt"
	"io"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/rs/zerolog/log"
)

// FilesClient is the part of the Dropbox files API the source uses
type FilesClient interface {
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
}

// Dropbox lists matching files below a Dropbox folder, recursively
type Dropbox struct {
	client     FilesClient
	root       string
	extensions []string
}

// NewDropbox connects with an access token. root "" is the Dropbox root.
func NewDropbox(token, root string, extensions []string) *Dropbox {
	client := files.New(dropbox.Config{Token: token, LogLevel: dropbox.LogOff})
	return NewDropboxWithClient(client, root, extensions)
}

func NewDropboxWithClient(client FilesClient, root string, extensions []string) *Dropbox {
	if root == "/" {
		root = ""
	}
	return &Dropbox{client: client, root: root, extensions: normalizeExtensions(extensions)}
}

func (d *Dropbox) List(ctx context.Context) ([]Document, error) {
	arg := files.NewListFolderArg(d.root)
	arg.Recursive = true
	res, err := d.client.ListFolder(arg)
	if err != nil {
		return nil, fmt.Errorf("list dropbox folder %q: %w", d.root, err)
	}

	var docs []Document
	for {
		for _, entry := range res.Entries {
			f, ok := entry.(*files.FileMetadata)
			if !ok || !hasExtension(f.Name, d.extensions) {
				continue
			}
			docs = append(docs, Document{
				ID:       f.Id,
				Path:     f.PathLower,
				Name:     SanitizeFilename(f.Name),
				Size:     int64(f.Size),
				Modified: f.ServerModified,
			})
		}
		if !res.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = d.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, fmt.Errorf("continue listing dropbox folder %q: %w", d.root, err)
		}
	}

	log.Info().Str("folder", d.root).Int("files", len(docs)).Msg("Listed Dropbox files")
	return docs, nil
}

func (d *Dropbox) Open(ctx context.Context, doc Document) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, body, err := d.client.Download(files.NewDownloadArg(doc.Path))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", doc.Path, err)
	}
	return body, nil
}
