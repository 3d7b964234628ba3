package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/dps_blobs/src/config"
	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// inbound queue depth; arrivals past this are dropped rather than blocking
// the transport's delivery callback
const jobQueueDepth = 128

// the bus carries no history, so discovery depends on announcements
// recurring while the server is up
const announceInterval = time.Minute

// Server is one blob storage node: it announces its capability, queues
// inbound requests, and drains them sequentially through the storage
// manager. All storage mutation happens on the single worker goroutine.
type Server struct {
	cfg      config.Config
	bus      transport.Bus
	store    *Store
	identity string
	address  string

	jobs chan *protocol.Envelope
	quit chan struct{}
	done chan struct{}
}

// New builds a server with a fresh identity on the given bus.
func New(bus transport.Bus, cfg config.Config) (*Server, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	identity := uuid.NewString()
	return &Server{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		identity: identity,
		address:  protocol.CapabilityAddress(identity),
		jobs:     make(chan *protocol.Envelope, jobQueueDepth),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Identity returns the server's announced identity.
func (s *Server) Identity() string { return s.identity }

// Start publishes the capability announcement, subscribes to requests, and
// launches the arrival and worker goroutines. It does not block.
func (s *Server) Start(ctx context.Context) error {
	if err := s.announce(ctx); err != nil {
		return err
	}

	sub, err := s.bus.Subscribe(ctx, transport.Filter{Kinds: []int{protocol.KindRequest}})
	if err != nil {
		return fmt.Errorf("failed to subscribe to requests: %w", err)
	}

	go s.acceptRequests(sub)
	go s.processJobs(ctx)

	logs.Infof("blob server %s announced at %s", s.identity, s.address)
	return nil
}

// Stop shuts the worker down and waits for it to finish the current item.
func (s *Server) Stop() {
	close(s.quit)
	<-s.done
}

func (s *Server) announce(ctx context.Context) error {
	ann := &protocol.Announcement{
		Identity:        s.identity,
		Name:            s.cfg.ServerName,
		About:           "content-addressed blob storage over the message bus",
		AcceptedActions: []string{protocol.ActionStore, protocol.ActionRetrieve, protocol.ActionDelete},
		MaxFileSize:     s.cfg.MaxFileSize,
		ChunkSize:       s.cfg.ChunkSize,
		RetentionSecs:   s.cfg.RetentionSeconds,
	}
	env, err := ann.Envelope()
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish announcement: %w", err)
	}
	return nil
}

// acceptRequests is the arrival side: it validates the target address and
// enqueues. It never touches storage, so transport delivery can be as
// concurrent as it likes.
func (s *Server) acceptRequests(sub *transport.Subscription) {
	defer sub.Close()
	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if env.Tag(protocol.TagTarget) != s.address {
				continue // addressed at some other server
			}
			select {
			case s.jobs <- env:
			default:
				logs.Warnf("job queue full, dropping request %s", env.ID)
			}
		case <-s.quit:
			return
		}
	}
}

// processJobs drains the queue sequentially. The expiry sweep runs on this
// same goroutine between queue items, so the storage map only ever has the
// one writer.
func (s *Server) processJobs(ctx context.Context) {
	defer close(s.done)

	sweep := time.NewTicker(s.cfg.SweepInterval())
	defer sweep.Stop()
	announce := time.NewTicker(announceInterval)
	defer announce.Stop()

	for {
		select {
		case env := <-s.jobs:
			s.handleRequest(ctx, env)
		case <-sweep.C:
			if n := s.store.Sweep(time.Now()); n > 0 {
				logs.Infof("sweep removed %d expired files, %d remain", n, s.store.Len())
			}
		case <-announce.C:
			if err := s.announce(ctx); err != nil {
				logs.Warnf("re-announcement failed: %v", err)
			}
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleRequest parses, dispatches, and always answers. Panics and handler
// failures become INTERNAL_ERROR responses; one bad request must not stall
// the queue.
func (s *Server) handleRequest(ctx context.Context, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf(fmt.Errorf("%v", r), "panic handling request %s", env.ID)
			s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeInternal, "internal server error"))
		}
	}()

	req, err := protocol.ParseRequest(env)
	if err != nil {
		var reqErr *protocol.RequestError
		if errors.As(err, &reqErr) {
			s.respond(ctx, env, protocol.ErrorResponse(reqErr.Code, reqErr.Message))
		} else {
			s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeInternal, err.Error()))
		}
		return
	}

	switch req.Action {
	case protocol.ActionStore:
		s.handleStore(ctx, env, req)
	case protocol.ActionRetrieve:
		s.handleRetrieve(ctx, env, req)
	case protocol.ActionDelete:
		s.handleDelete(ctx, env, req)
	}
}

func (s *Server) handleStore(ctx context.Context, env *protocol.Envelope, req *protocol.Request) {
	rec, err := s.store.Put(req.Data, req.Filename)
	if err != nil {
		var sizeErr *SizeExceededError
		var fullErr *StorageFullError
		switch {
		case errors.As(err, &sizeErr):
			s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeFileTooLarge, sizeErr.Error()))
		case errors.As(err, &fullErr):
			s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeStorageFull, fullErr.Error()))
		default:
			s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeInternal, err.Error()))
		}
		return
	}

	// chunks go out before the response; clients must tolerate either order
	if err := s.publishChunks(ctx, rec); err != nil {
		logs.Errorf(err, "failed to publish chunks for %s", rec.ContentHash)
		s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeInternal, "failed to publish chunks"))
		return
	}

	logs.Infof("stored file %s (%d bytes, %d chunks)", rec.ContentHash, rec.TotalSize, len(rec.Chunks))
	s.respond(ctx, env, &protocol.Response{
		Status:     protocol.StatusStored,
		Hash:       rec.ContentHash,
		Size:       rec.TotalSize,
		ChunkCount: len(rec.Chunks),
		ExpiresAt:  rec.ExpiresAt.Unix(),
	})
}

func (s *Server) handleRetrieve(ctx context.Context, env *protocol.Envelope, req *protocol.Request) {
	rec, err := s.store.Get(req.Hash)
	if err != nil {
		s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeFileNotFound, "requested file not found"))
		return
	}

	// republish the full chunk set so a requester holding nothing can
	// assemble the file
	if err := s.publishChunks(ctx, rec); err != nil {
		logs.Errorf(err, "failed to publish chunks for %s", rec.ContentHash)
		s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeInternal, "failed to publish chunks"))
		return
	}

	logs.Infof("retrieved file %s (%d chunks)", rec.ContentHash, len(rec.Chunks))
	s.respond(ctx, env, &protocol.Response{
		Status:     protocol.StatusAvailable,
		Hash:       rec.ContentHash,
		Size:       rec.TotalSize,
		ChunkCount: len(rec.Chunks),
		ExpiresAt:  rec.ExpiresAt.Unix(),
	})
}

func (s *Server) handleDelete(ctx context.Context, env *protocol.Envelope, req *protocol.Request) {
	if err := s.store.Delete(req.Hash); err != nil {
		s.respond(ctx, env, protocol.ErrorResponse(protocol.CodeFileNotFound, "requested file not found"))
		return
	}
	logs.Infof("deleted file %s", req.Hash)
	s.respond(ctx, env, &protocol.Response{
		Status: protocol.StatusDeleted,
		Hash:   req.Hash,
	})
}

func (s *Server) publishChunks(ctx context.Context, rec *FileRecord) error {
	for i := range rec.Chunks {
		c := &rec.Chunks[i]
		msg := &protocol.ChunkMessage{
			FileHash:  rec.ContentHash,
			Index:     c.Index,
			Total:     len(rec.Chunks),
			ChunkHash: c.Hash,
			ExpiresAt: rec.ExpiresAt.Unix(),
			Data:      c.Data,
		}
		if err := s.bus.Publish(ctx, msg.Envelope(s.identity)); err != nil {
			return fmt.Errorf("failed to publish chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

func (s *Server) respond(ctx context.Context, request *protocol.Envelope, resp *protocol.Response) {
	env, err := resp.Envelope(s.identity, request.ID, request.From)
	if err != nil {
		logs.Errorf(err, "failed to build response for request %s", request.ID)
		return
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		logs.Errorf(err, "failed to publish response for request %s", request.ID)
	}
}
