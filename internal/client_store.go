package internal

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sessamekesh/coop-relay/pkg/clients"
)

type DuplicateClientIdError struct {
	Id uint64
}

func (e *DuplicateClientIdError) Error() string {
	return fmt.Sprintf("Attempted to create client with duplicate ID %d", e.Id)
}

type DuplicateUsernameError struct {
	Username string
}

func (e *DuplicateUsernameError) Error() string {
	return "Username is already taken!"
}

type MissingClientIdError struct {
	Id uint64
}

func (e *MissingClientIdError) Error() string {
	return fmt.Sprintf("Missing client with id=%d", e.Id)
}

type TooManyClientsError struct{}

func (e *TooManyClientsError) Error() string {
	return "Server is full!"
}

// ClientStore indexes approved clients by connection id and by username.
// Usernames are unique case-insensitively.
type ClientStore struct {
	MaxConnections int

	mut_clients sync.RWMutex
	clients     map[uint64]*clients.Client
	usernames   map[string]uint64
}

func CreateClientStore(maxConnections int) *ClientStore {
	return &ClientStore{
		MaxConnections: maxConnections,
		mut_clients:    sync.RWMutex{},
		clients:        make(map[uint64]*clients.Client),
		usernames:      make(map[string]uint64),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

func (store *ClientStore) HasUsername(username string) bool {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	_, has := store.usernames[usernameKey(username)]
	return has
}

func (store *ClientStore) IsFull() bool {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	return store.MaxConnections > 0 && len(store.clients) >= store.MaxConnections
}

func (store *ClientStore) Add(client *clients.Client) error {
	store.mut_clients.Lock()
	defer store.mut_clients.Unlock()

	if _, has := store.clients[client.NetID]; has {
		return &DuplicateClientIdError{Id: client.NetID}
	}
	if _, has := store.usernames[usernameKey(client.Username)]; has {
		return &DuplicateUsernameError{Username: client.Username}
	}
	if store.MaxConnections > 0 && len(store.clients) >= store.MaxConnections {
		return &TooManyClientsError{}
	}

	store.clients[client.NetID] = client
	store.usernames[usernameKey(client.Username)] = client.NetID
	return nil
}

func (store *ClientStore) Remove(netID uint64) (*clients.Client, error) {
	store.mut_clients.Lock()
	defer store.mut_clients.Unlock()

	client, has := store.clients[netID]
	if !has {
		return nil, &MissingClientIdError{Id: netID}
	}
	delete(store.clients, netID)
	delete(store.usernames, usernameKey(client.Username))
	return client, nil
}

func (store *ClientStore) Get(netID uint64) (*clients.Client, bool) {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	client, has := store.clients[netID]
	return client, has
}

func (store *ClientStore) GetByUsername(username string) (*clients.Client, bool) {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	netID, has := store.usernames[usernameKey(username)]
	if !has {
		return nil, false
	}
	return store.clients[netID], true
}

func (store *ClientStore) Count() int {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()
	return len(store.clients)
}

// All returns a snapshot of connected clients, oldest connection first.
func (store *ClientStore) All() []*clients.Client {
	store.mut_clients.RLock()
	list := make([]*clients.Client, 0, len(store.clients))
	for _, client := range store.clients {
		list = append(list, client)
	}
	store.mut_clients.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].NetID < list[j].NetID
	})
	return list
}

// Others returns every client except the one with netID.
func (store *ClientStore) Others(netID uint64) []*clients.Client {
	all := store.All()
	others := all[:0]
	for _, client := range all {
		if client.NetID != netID {
			others = append(others, client)
		}
	}
	return others
}
