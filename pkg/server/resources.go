package server

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

// resourceFiles lists every regular file below dir, in lexical order.
func resourceFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// pushResources sends the resource files to a freshly connected client, then
// the AllResourcesSent event. The transfer blocks on client responses, so it
// runs on its own goroutine.
func (s *Server) pushResources(client *clients.Client) {
	log := s.log.With(zap.Uint64("connId", client.NetID), zap.String("username", client.Username))

	done := func() {
		ev, err := packets.NewCustomEvent(packets.CustomEvent_AllResourcesSent)
		if err != nil {
			log.Error("Failed to encode resources event", zap.Error(err))
			return
		}
		client.Send(ev, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
	}

	if s.settings.ResourcesDirectory == "" {
		done()
		return
	}

	files, err := resourceFiles(s.settings.ResourcesDirectory)
	if err != nil {
		log.Error("Failed to list resources", zap.String("directory", s.settings.ResourcesDirectory), zap.Error(err))
		return
	}

	s.resources.Add(1)
	go func() {
		defer s.resources.Done()

		for _, path := range files {
			err := s.files.SendPath(s.ctx, client.Conn, path, func(progress float32) {
				log.Debug("Resource progress", zap.String("file", path), zap.Float32("progress", progress))
			})
			if err != nil {
				log.Warn("Failed to send resource", zap.String("file", path), zap.Error(err))
				return
			}
		}
		log.Info("Sent resources", zap.Int("count", len(files)))
		done()
	}()
}
