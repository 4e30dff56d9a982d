// Package archive writes point-in-time ledger snapshots to a blob store and
// restores them.
//
// An archive object is a zstd stream holding two JSON values separated by a
// newline: a Header describing the snapshot, then the Body.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"kittycore/internal/blob"
	"kittycore/internal/escrow"
	"kittycore/pkg/domain"
)

const (
	// FormatV1 is the only archive layout written so far.
	FormatV1 = 1

	DefaultPrefix = "snapshots/"
	keySuffix     = ".json.zst"
	contentType   = "application/zstd"
	keyTimeLayout = "20060102T150405.000000000Z"
)

// ErrNoSnapshot is returned by RestoreLatest when the prefix holds no archive.
var ErrNoSnapshot = errors.New("archive: no snapshot found")

// Header is the first line of every archive object.
type Header struct {
	Format    int       `json:"format"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kitties   int       `json:"kitties"`
	Accounts  int       `json:"accounts"`
}

// Body carries the archived state.
type Body struct {
	Ledger   domain.Snapshot                     `json:"ledger"`
	Balances map[domain.AccountID]escrow.Account `json:"balances,omitempty"`
}

// Manifest summarizes an archive object written or restored.
type Manifest struct {
	Header
	Key  string `json:"key"`
	Size int64  `json:"size_bytes"`
	URL  string `json:"url,omitempty"`
}

// Ledger is the state the exporter snapshots and restores.
type Ledger interface {
	ExportState() domain.Snapshot
	ImportState(domain.Snapshot)
}

// Balances is the optional escrow state archived alongside the ledger.
// *escrow.Ledger satisfies it.
type Balances interface {
	Accounts() map[domain.AccountID]escrow.Account
	Replace(map[domain.AccountID]escrow.Account)
}

// flusher is implemented by durable stores whose ImportState only touches
// the in-memory copy.
type flusher interface {
	Flush(ctx context.Context) error
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithBalances archives and restores escrow balances too.
func WithBalances(b Balances) Option {
	return func(e *Exporter) {
		if b != nil {
			e.balances = b
		}
	}
}

// WithPrefix overrides the key prefix (default "snapshots/").
func WithPrefix(prefix string) Option {
	return func(e *Exporter) {
		if prefix != "" {
			e.prefix = strings.TrimSuffix(prefix, "/") + "/"
		}
	}
}

// WithClock overrides the time source used for keys and headers.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// Exporter moves snapshots between a Ledger and a blob.Store.
type Exporter struct {
	blobs    blob.Store
	ledger   Ledger
	balances Balances
	prefix   string
	now      func() time.Time
}

// NewExporter returns an exporter writing under DefaultPrefix.
func NewExporter(blobs blob.Store, ledger Ledger, opts ...Option) *Exporter {
	e := &Exporter{
		blobs:  blobs,
		ledger: ledger,
		prefix: DefaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the current state as a new archive object.
func (e *Exporter) Export(ctx context.Context) (Manifest, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Manifest{}, fmt.Errorf("archive id: %w", err)
	}
	body := Body{Ledger: e.ledger.ExportState()}
	if e.balances != nil {
		body.Balances = e.balances.Accounts()
	}
	hdr := Header{
		Format:    FormatV1,
		ID:        id.String(),
		CreatedAt: e.now().UTC(),
		Kitties:   len(body.Ledger.Kitties),
		Accounts:  len(body.Balances),
	}

	var buf bytes.Buffer
	if err := encode(&buf, hdr, body); err != nil {
		return Manifest{}, err
	}
	key := e.prefix + hdr.CreatedAt.Format(keyTimeLayout) + "-" + hdr.ID + keySuffix
	info, err := e.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"snapshot-id": hdr.ID,
			"format":      strconv.Itoa(hdr.Format),
			"kitties":     strconv.Itoa(hdr.Kitties),
		},
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("store %s: %w", key, err)
	}
	m := Manifest{Header: hdr, Key: key, Size: info.Size, URL: info.URL}
	if m.URL == "" {
		if u, err := e.blobs.PresignURL(ctx, key, blob.SignedURLOptions{}); err == nil {
			m.URL = u
		}
	}
	return m, nil
}

// List returns the archive objects under the prefix, oldest first.
func (e *Exporter) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := e.blobs.List(ctx, e.prefix)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, keySuffix) {
			out = append(out, info)
		}
	}
	return out, nil
}

// RestoreLatest restores the newest archive under the prefix.
func (e *Exporter) RestoreLatest(ctx context.Context) (Manifest, error) {
	infos, err := e.List(ctx)
	if err != nil {
		return Manifest{}, err
	}
	if len(infos) == 0 {
		return Manifest{}, ErrNoSnapshot
	}
	return e.Restore(ctx, infos[len(infos)-1].Key)
}

// Restore replaces the ledger (and balances, when configured and present)
// with the archive stored at key. Durable ledgers are flushed afterwards.
func (e *Exporter) Restore(ctx context.Context, key string) (Manifest, error) {
	info, rc, err := e.blobs.Get(ctx, key)
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = rc.Close() }()

	hdr, body, err := decode(rc)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", key, err)
	}
	if err := validate(body.Ledger); err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", key, err)
	}
	e.ledger.ImportState(body.Ledger)
	if e.balances != nil && body.Balances != nil {
		e.balances.Replace(body.Balances)
	}
	if f, ok := e.ledger.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return Manifest{}, err
		}
	}
	return Manifest{Header: hdr, Key: key, Size: info.Size, URL: info.URL}, nil
}

func encode(w io.Writer, hdr Header, body Body) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	je := json.NewEncoder(bw)
	if err := je.Encode(hdr); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode header: %w", err)
	}
	if err := je.Encode(body); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode body: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func decode(r io.Reader) (Header, Body, error) {
	var (
		hdr  Header
		body Body
	)
	dec, err := zstd.NewReader(r)
	if err != nil {
		return hdr, body, err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReader(dec))
	if err := jd.Decode(&hdr); err != nil {
		return hdr, body, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Format != FormatV1 {
		return hdr, body, fmt.Errorf("unsupported archive format %d", hdr.Format)
	}
	if err := jd.Decode(&body); err != nil {
		return hdr, body, fmt.Errorf("decode body: %w", err)
	}
	return hdr, body, nil
}

// validate checks the structural invariants a restored ledger must hold
// before it replaces live state.
func validate(s domain.Snapshot) error {
	for id, k := range s.Kitties {
		if k.ID != id {
			return fmt.Errorf("kitty %s stored under id %s", k.ID, id)
		}
		if id >= s.NextKittyID {
			return fmt.Errorf("kitty %s not below next id %s", id, s.NextKittyID)
		}
		if _, ok := s.Owners[id]; !ok {
			return fmt.Errorf("kitty %s has no owner", id)
		}
	}
	for id := range s.Owners {
		if _, ok := s.Kitties[id]; !ok {
			return fmt.Errorf("owner recorded for unknown kitty %s", id)
		}
	}
	for child, p := range s.Parents {
		for _, id := range []domain.KittyID{child, p.A, p.B} {
			if _, ok := s.Kitties[id]; !ok {
				return fmt.Errorf("parentage of %s references unknown kitty %s", child, id)
			}
		}
	}
	for _, id := range s.Listings {
		if _, ok := s.Kitties[id]; !ok {
			return fmt.Errorf("listing references unknown kitty %s", id)
		}
	}
	return nil
}
