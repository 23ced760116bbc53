package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// directoryTTL is how long a fetched directory is reused before a ring
// triggers a refetch. Directories change rarely.
const directoryTTL = 5 * time.Minute

// directoryCache resolves caller names from the device directory.
//
// Early polls during a ring often carry only the pressed button number;
// the directory maps buttons to names. The cache fetches lazily on the
// first lookup and refreshes after the TTL. Failures degrade to an
// unenriched caller, never to an error.
type directoryCache struct {
	client DirectoryClient
	logger *logging.Logger

	mu        sync.Mutex
	entries   []intercom.DirectoryEntry
	fetchedAt time.Time
}

func newDirectoryCache(client DirectoryClient, logger *logging.Logger) *directoryCache {
	return &directoryCache{
		client: client,
		logger: logger,
	}
}

// Enrich fills the caller's name from the directory entry matching the
// pressed button. Best-effort: on any failure the input is returned
// unchanged.
func (d *directoryCache) Enrich(ctx context.Context, caller intercom.CallerInfo) intercom.CallerInfo {
	if caller.Name != "" || caller.Button == 0 {
		return caller
	}

	entries := d.load(ctx)
	button := strconv.Itoa(caller.Button)
	for _, entry := range entries {
		if directoryEntryHasButton(entry, button) {
			caller.Name = entry.Name
			return caller
		}
	}
	return caller
}

func (d *directoryCache) load(ctx context.Context) []intercom.DirectoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.entries != nil && time.Since(d.fetchedAt) < directoryTTL {
		return d.entries
	}

	entries, err := d.client.GetDirectory(ctx)
	if err != nil {
		d.logger.Warn("directory fetch failed, caller enrichment skipped", "error", err)
		return d.entries
	}

	d.entries = entries
	d.fetchedAt = time.Now()
	return d.entries
}

// directoryEntryHasButton matches a button number against the entry's
// comma-separated button list.
func directoryEntryHasButton(entry intercom.DirectoryEntry, button string) bool {
	for _, b := range strings.Split(entry.Buttons, ",") {
		if strings.TrimSpace(b) == button {
			return true
		}
	}
	return false
}
