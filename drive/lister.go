// Package drive lists folder children through the Google Drive v3 API.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/certdesk/certdesk/folders"
	"github.com/certdesk/certdesk/logging"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	listFields     = "nextPageToken, files(id, name, parents)"

	DefaultTimeout        = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultPageSize       = 100
	maxPageSize           = 1000
)

// Options configures the Drive lister.
type Options struct {
	// CredentialsFile is a service account or authorized user JSON file.
	// Empty means application default credentials.
	CredentialsFile string
	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	PageSize        int
	// ClientOptions are appended when creating the service.
	ClientOptions []option.ClientOption
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	o.PageSize = min(o.PageSize, maxPageSize)
}

// Lister implements folders.Lister on top of Drive. Every page request has
// its own timeout and is retried on rate limiting and server errors.
type Lister struct {
	svc  *drive.Service
	opts Options
}

var _ folders.Lister = (*Lister)(nil)

// New connects to Drive with read-only scope.
func New(ctx context.Context, opts Options) (*Lister, error) {
	clientOpts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewWithService(svc, opts), nil
}

// NewWithService wraps an existing Drive service.
func NewWithService(svc *drive.Service, opts Options) *Lister {
	opts.defaults()
	return &Lister{svc: svc, opts: opts}
}

// ListChildren implements folders.Lister. Trashed folders and non-folder
// files are excluded by the query.
func (l *Lister) ListChildren(ctx context.Context, parentID, pageToken string) (folders.Page, error) {
	log := logging.Sub("drive")
	q := childFoldersQuery(parentID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff

	attempt := 0
	list, err := backoff.Retry(ctx, func() (*drive.FileList, error) {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()

		call := l.svc.Files.List().
			Context(cctx).
			Q(q).
			Fields(listFields).
			PageSize(int64(l.opts.PageSize)).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err == nil {
			return list, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("drive list failed, retrying", "parent", parentID, "attempt", attempt, "wait", wait, "err", err)
		}),
	)
	if err != nil {
		return folders.Page{}, fmt.Errorf("drive files.list: %w", err)
	}

	page := folders.Page{
		Folders:       make([]folders.FolderRecord, 0, len(list.Files)),
		NextPageToken: list.NextPageToken,
	}
	for _, f := range list.Files {
		if f == nil || f.Id == "" {
			continue
		}
		page.Folders = append(page.Folders, folders.FolderRecord{
			ID:        f.Id,
			Name:      f.Name,
			ParentIDs: lo.Uniq(f.Parents),
		})
	}
	log.Debug("drive page listed", "parent", parentID, "folders", len(page.Folders), "more", page.NextPageToken != "", "attempts", attempt)
	return page, nil
}

func childFoldersQuery(parentID string) string {
	id := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(parentID)
	return fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", id, folderMimeType)
}

// retryable reports whether a failed call is worth repeating: quota and
// rate limiting, server errors and transport timeouts.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return true
		case gerr.Code == http.StatusForbidden:
			for _, item := range gerr.Errors {
				switch item.Reason {
				case "rateLimitExceeded", "userRateLimitExceeded":
					return true
				}
			}
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
