package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"github.com/sessamekesh/coop-relay/pkg/requests"
	utils "github.com/sessamekesh/coop-relay/pkg/util"
	"go.uber.org/zap"
)

const ChunkSize = 4096

// FileTransfer describes one push in progress.
type FileTransfer struct {
	ID       int32
	Name     string
	Target   uint64
	Progress float32
}

type SenderParams struct {
	Requester *requests.Requester

	// How long to wait for the peer to answer the offer and the completion
	// notice. Zero means requests.DefaultTimeout.
	Timeout time.Duration

	Logger *zap.Logger
}

// Sender pushes files to peers in fixed size chunks on the File channel.
type Sender struct {
	requester *requests.Requester
	timeout   time.Duration
	log       *zap.Logger

	mut_transfers sync.Mutex
	transfers     map[int32]*FileTransfer
}

func CreateSender(params SenderParams) *Sender {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Sender{
		requester: params.Requester,
		timeout:   params.Timeout,
		log:       logger.With(zap.String("handler", "FileTransfer")),
		transfers: make(map[int32]*FileTransfer),
	}
}

// ChunkCount is the number of chunks a file of length bytes is split into.
func ChunkCount(length int64) int64 {
	return (length + ChunkSize - 1) / ChunkSize
}

// Transfers snapshots the pushes currently in progress, ordered by id.
func (s *Sender) Transfers() []FileTransfer {
	s.mut_transfers.Lock()
	defer s.mut_transfers.Unlock()

	out := make([]FileTransfer, 0, len(s.transfers))
	for _, ft := range s.transfers {
		out = append(out, *ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Sender) begin(name string, target uint64) *FileTransfer {
	s.mut_transfers.Lock()
	defer s.mut_transfers.Unlock()

	id := utils.RandomNonZeroInt32(func(id int32) bool {
		_, has := s.transfers[id]
		return has
	})
	ft := &FileTransfer{ID: id, Name: name, Target: target}
	s.transfers[id] = ft
	return ft
}

func (s *Sender) setProgress(id int32, progress float32) {
	s.mut_transfers.Lock()
	defer s.mut_transfers.Unlock()
	if ft, has := s.transfers[id]; has {
		ft.Progress = progress
	}
}

func (s *Sender) end(id int32) {
	s.mut_transfers.Lock()
	defer s.mut_transfers.Unlock()
	delete(s.transfers, id)
}

// SendFile offers name to target and, if the peer answers NeedToDownload,
// streams length bytes of r to it. Blocks for the whole transfer, so it must
// not run on the listener goroutine.
//
// A peer that does not answer the offer or confirm completion is logged, not
// reported as an error. Only read and send failures are returned.
func (s *Sender) SendFile(ctx context.Context, target handlers.Connection, name string, r io.Reader, length int64, progress func(float32)) error {
	ft := s.begin(name, target.ID())
	defer s.end(ft.ID)

	log := s.log.With(zap.Uint64("connId", target.ID()), zap.String("file", name), zap.Int32("transferId", ft.ID))

	offer, err := requests.RequestAs[packets.FileTransferResponse](ctx, s.requester, target, &packets.FileTransferRequest{
		ID:         ft.ID,
		Name:       name,
		FileLength: length,
	}, packets.Channel_File, s.timeout)
	if errors.Is(err, requests.ErrTimeout) {
		log.Warn("Peer did not answer file offer, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("offer %s: %w", name, err)
	}
	if offer.Response != packets.FileResponse_NeedToDownload {
		log.Info("Skipping file transfer, peer does not need it", zap.Uint8("response", uint8(offer.Response)))
		return nil
	}

	log.Debug("Sending file", zap.Int64("length", length), zap.Int64("chunks", ChunkCount(length)))

	buf := make([]byte, ChunkSize)
	var sent int64
	for sent < length {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := int64(ChunkSize)
		if remaining := length - sent; remaining < size {
			size = remaining
		}
		if _, err := io.ReadFull(r, buf[:size]); err != nil {
			return fmt.Errorf("read %s at offset %d: %w", name, sent, err)
		}

		chunk := &packets.FileTransferChunk{ID: ft.ID, FileChunk: buf[:size]}
		if err := target.Send(packets.Frame(chunk), packets.DeliveryMethod_ReliableOrdered, packets.Channel_File); err != nil {
			return fmt.Errorf("send chunk of %s: %w", name, err)
		}
		sent += size

		p := float32(sent) / float32(length)
		s.setProgress(ft.ID, p)
		if progress != nil {
			progress(p)
		}
	}

	done, err := requests.RequestAs[packets.FileTransferResponse](ctx, s.requester, target, &packets.FileTransferComplete{ID: ft.ID}, packets.Channel_File, s.timeout)
	if errors.Is(err, requests.ErrTimeout) {
		log.Warn("File transfer failed, peer did not confirm completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete %s: %w", name, err)
	}
	if done.Response != packets.FileResponse_Completed {
		log.Warn("File transfer was not completed by peer", zap.Uint8("response", uint8(done.Response)))
	}

	return nil
}

// SendPath sends the file at path under its base name.
func (s *Sender) SendPath(ctx context.Context, target handlers.Connection, path string, progress func(float32)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return s.SendFile(ctx, target, filepath.Base(path), f, info.Size(), progress)
}
