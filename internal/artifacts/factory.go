package artifacts

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Options selects and configures an artifact backend.
type Options struct {
	// Provider is "localfs" or "gdrive". Empty means localfs.
	Provider string

	// LocalRoot is the root directory for the localfs backend.
	LocalRoot string

	// Drive OAuth credentials for the gdrive backend. The refresh token is
	// provisioned offline; no interactive flow happens here.
	DriveClientID     string
	DriveClientSecret string
	DriveRefreshToken string
	DriveFolderID     string
}

// NewStore builds the configured artifact store.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Provider {
	case "", "localfs":
		if opts.LocalRoot == "" {
			return nil, fmt.Errorf("localfs artifact store requires a root directory")
		}
		return NewLocalFS(opts.LocalRoot), nil

	case "gdrive":
		if opts.DriveClientID == "" || opts.DriveClientSecret == "" || opts.DriveRefreshToken == "" {
			return nil, fmt.Errorf("gdrive artifact store requires client id, secret and refresh token")
		}

		conf := &oauth2.Config{
			ClientID:     opts.DriveClientID,
			ClientSecret: opts.DriveClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveFileScope},
		}
		httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: opts.DriveRefreshToken})

		srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}
		return NewGDrive(srv, opts.DriveFolderID), nil

	default:
		return nil, fmt.Errorf("unknown artifact provider: %s", opts.Provider)
	}
}
