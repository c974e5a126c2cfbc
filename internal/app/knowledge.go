package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

// knowledgeAPI is the slice of the RPC surface the knowledge store needs.
type knowledgeAPI interface {
	ListFacts(ctx context.Context) ([]string, error)
	AddFact(ctx context.Context, text string) (rpc.FactAdded, error)
	EditFact(ctx context.Context, oldText, newText string) (rpc.FactEdited, error)
	DeleteFact(ctx context.Context, text string) (rpc.FactDeleted, error)
	ListDocs(ctx context.Context) ([]rpc.DocRow, error)
	UploadDoc(ctx context.Context, filename string, src io.Reader) (rpc.UploadResult, error)
	DeleteDoc(ctx context.Context, filename string) (rpc.DocDeleted, error)
}

// OpResult is the outcome of a knowledge mutation that reached the
// service. Declined means the service refused it (duplicate fact,
// unknown target); transport failures surface as errors instead, never
// as a silent success.
type OpResult struct {
	OK       bool
	Declined bool
	Reason   string
}

func declinedResult(reason string) OpResult {
	if reason == "" {
		reason = "declined by the service"
	}
	return OpResult{Declined: true, Reason: reason}
}

// KnowledgeStore owns the remembered facts and the document library.
// Facts are identified by their text; the service has no stable fact
// ids. The library is rebuilt from scratch on every refresh.
type KnowledgeStore struct {
	api knowledgeAPI
	log *logging.Logger

	mu      sync.Mutex
	facts   []string
	library Library

	factBusy  atomic.Bool
	docBusy   atomic.Bool
	uploading atomic.Bool
}

func NewKnowledgeStore(api knowledgeAPI, log *logging.Logger) *KnowledgeStore {
	if log == nil {
		log = logging.NewNop()
	}
	return &KnowledgeStore{api: api, log: log, library: Library{}}
}

// FactBusy reports whether a fact mutation is in flight.
func (k *KnowledgeStore) FactBusy() bool { return k.factBusy.Load() }

// DocBusy reports whether a document mutation is in flight.
func (k *KnowledgeStore) DocBusy() bool { return k.docBusy.Load() }

// Uploading reports whether an upload specifically is in flight.
func (k *KnowledgeStore) Uploading() bool { return k.uploading.Load() }

// RefreshAll pulls both collections concurrently. Each branch captures
// its own failure; neither cancels or blocks the other.
func (k *KnowledgeStore) RefreshAll(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		k.refreshFacts(ctx)
		return nil
	})
	g.Go(func() error {
		k.refreshDocs(ctx)
		return nil
	})
	_ = g.Wait()
}

// refreshFacts replaces the fact list. Failures and unexpected shapes
// reset the collection rather than leaving stale entries.
func (k *KnowledgeStore) refreshFacts(ctx context.Context) {
	facts, err := k.api.ListFacts(ctx)
	if err != nil {
		k.log.Warn("memory refresh", zap.Error(err))
		facts = nil
	}
	k.mu.Lock()
	k.facts = facts
	k.mu.Unlock()
}

// refreshDocs rebuilds the grouped library from the flat chunk list.
func (k *KnowledgeStore) refreshDocs(ctx context.Context) {
	rows, err := k.api.ListDocs(ctx)
	if err != nil {
		k.log.Warn("library refresh", zap.Error(err))
		rows = nil
	}
	lib := Library{}
	for _, row := range rows {
		c := chunkFromRow(row)
		lib[c.SourceFile] = append(lib[c.SourceFile], c)
	}
	k.mu.Lock()
	k.library = lib
	k.mu.Unlock()
}

// Facts returns a copy of the remembered facts.
func (k *KnowledgeStore) Facts() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, len(k.facts))
	copy(out, k.facts)
	return out
}

// Documents returns the grouped library. Chunk slices are rebuilt on
// refresh and never mutated in place, so sharing them is safe.
func (k *KnowledgeStore) Documents() Library {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(Library, len(k.library))
	for f, chunks := range k.library {
		out[f] = chunks
	}
	return out
}

// AddFact stores a new fact. A duplicate submit while one is in flight
// is a no-op returning ErrBusy, so rapid repeats produce one remote
// call at most.
func (k *KnowledgeStore) AddFact(ctx context.Context, text string) (OpResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return OpResult{}, errors.New("empty fact")
	}
	if !k.factBusy.CompareAndSwap(false, true) {
		return OpResult{}, ErrBusy
	}
	defer k.factBusy.Store(false)

	ack, err := k.api.AddFact(ctx, text)
	if err != nil {
		return OpResult{}, fmt.Errorf("add fact: %w", err)
	}
	if !ack.Added {
		k.log.Info("fact add declined", zap.String("reason", ack.Reason))
		return declinedResult(ack.Reason), nil
	}
	k.refreshFacts(ctx)
	return OpResult{OK: true}, nil
}

// EditFact rewrites a fact addressed by its current text.
func (k *KnowledgeStore) EditFact(ctx context.Context, oldText, newText string) (OpResult, error) {
	oldText = strings.TrimSpace(oldText)
	newText = strings.TrimSpace(newText)
	if oldText == "" || newText == "" {
		return OpResult{}, errors.New("empty fact")
	}
	if !k.factBusy.CompareAndSwap(false, true) {
		return OpResult{}, ErrBusy
	}
	defer k.factBusy.Store(false)

	ack, err := k.api.EditFact(ctx, oldText, newText)
	if err != nil {
		return OpResult{}, fmt.Errorf("edit fact: %w", err)
	}
	if !ack.Edited {
		k.log.Info("fact edit declined", zap.String("reason", ack.Reason))
		return declinedResult(ack.Reason), nil
	}
	k.refreshFacts(ctx)
	return OpResult{OK: true}, nil
}

// DeleteFact removes a fact addressed by its text.
func (k *KnowledgeStore) DeleteFact(ctx context.Context, text string) (OpResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return OpResult{}, errors.New("empty fact")
	}
	if !k.factBusy.CompareAndSwap(false, true) {
		return OpResult{}, ErrBusy
	}
	defer k.factBusy.Store(false)

	ack, err := k.api.DeleteFact(ctx, text)
	if err != nil {
		return OpResult{}, fmt.Errorf("delete fact: %w", err)
	}
	if !ack.Deleted {
		k.log.Info("fact delete declined", zap.String("reason", ack.Reason))
		return declinedResult(ack.Reason), nil
	}
	k.refreshFacts(ctx)
	return OpResult{OK: true}, nil
}

// DeleteDocument removes every chunk indexed from sourceFile. Either
// acknowledged response shape counts as success; anything else is
// failure.
func (k *KnowledgeStore) DeleteDocument(ctx context.Context, sourceFile string) (OpResult, error) {
	if sourceFile == "" || sourceFile == UnknownSource {
		return OpResult{}, errors.New("document has no deletable filename")
	}
	if !k.docBusy.CompareAndSwap(false, true) {
		return OpResult{}, ErrBusy
	}
	defer k.docBusy.Store(false)

	res, err := k.api.DeleteDoc(ctx, sourceFile)
	if err != nil {
		return OpResult{}, fmt.Errorf("delete document: %w", err)
	}
	if !res.Accepted() {
		k.log.Info("document delete declined", zap.String("file", sourceFile))
		return declinedResult(""), nil
	}
	k.refreshDocs(ctx)
	return OpResult{OK: true}, nil
}

// UploadDocument submits one file as multipart content. Success
// triggers a full refresh of both collections.
func (k *KnowledgeStore) UploadDocument(ctx context.Context, filename string, src io.Reader) (rpc.UploadResult, error) {
	if strings.TrimSpace(filename) == "" {
		return rpc.UploadResult{}, errors.New("missing filename")
	}
	if !k.docBusy.CompareAndSwap(false, true) {
		return rpc.UploadResult{}, ErrBusy
	}
	k.uploading.Store(true)
	defer func() {
		k.uploading.Store(false)
		k.docBusy.Store(false)
	}()

	res, err := k.api.UploadDoc(ctx, filename, src)
	if err != nil {
		return rpc.UploadResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if res.Added {
		k.RefreshAll(ctx)
	}
	k.log.Info("document uploaded",
		zap.String("file", filename),
		zap.Int("chunks", res.Chunks),
		zap.Int("sections", res.Sections))
	return res, nil
}
