// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type azureBackend struct {
	accountURL string

	mu     sync.Mutex
	client *azblob.Client
}

func newAzureBackend(accountURL string) *azureBackend {
	return &azureBackend{accountURL: accountURL}
}

func (b *azureBackend) getClient() (*azblob.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	if b.accountURL == "" {
		return nil, errors.New("azblob source configured without dataset.azure_account_url")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}
	client, err := azblob.NewClient(b.accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	b.client = client
	return client, nil
}

func (b *azureBackend) fetch(ctx context.Context, loc Location) ([]byte, error) {
	client, err := b.getClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.DownloadStream(ctx, loc.Bucket, loc.Key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("azblob://%s/%s: %w", loc.Bucket, loc.Key, ErrNotFound)
		}
		return nil, fmt.Errorf("download azblob://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read azblob://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return data, nil
}
