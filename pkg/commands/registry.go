package commands

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sessamekesh/coop-relay/pkg/errors"
	"go.uber.org/zap"
)

const CommandNotFound = "Command not found!"

// Context is handed to a command handler.
type Context struct {
	// Username of the player who typed the command
	Sender string
	Args   []string

	// Reply sends a chat line back to the sender.
	Reply func(message string)
}

type Handler func(ctx *Context)

type Command struct {
	Name  string
	Usage string
	// Minimum number of arguments
	ArgsLength int
	Handler    Handler
}

type Registry struct {
	mut_commands sync.RWMutex
	commands     map[string]Command

	log *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Registry{
		commands: make(map[string]Command),
		log:      logger.With(zap.String("handler", "Commands")),
	}
}

func (r *Registry) Register(cmd Command) error {
	r.mut_commands.Lock()
	defer r.mut_commands.Unlock()

	if _, has := r.commands[cmd.Name]; has {
		return &errors.NameCollision{
			CollisionContext: "Commands",
			Name:             cmd.Name,
		}
	}
	r.commands[cmd.Name] = cmd
	return nil
}

func (r *Registry) Get(name string) (Command, bool) {
	r.mut_commands.RLock()
	defer r.mut_commands.RUnlock()
	cmd, has := r.commands[name]
	return cmd, has
}

// All lists registered commands by name.
func (r *Registry) All() []Command {
	r.mut_commands.RLock()
	defer r.mut_commands.RUnlock()

	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the named command. Unknown names and too few arguments are
// answered through ctx.Reply. Reports whether a handler ran.
func (r *Registry) Dispatch(name string, ctx *Context) bool {
	cmd, has := r.Get(name)
	if !has {
		ctx.Reply(CommandNotFound)
		return false
	}

	if len(ctx.Args) < cmd.ArgsLength {
		ctx.Reply(fmt.Sprintf("Please use \"%s\"", cmd.Usage))
		return false
	}

	r.log.Debug("Running command", zap.String("command", name), zap.String("username", ctx.Sender))
	cmd.Handler(ctx)
	return true
}

// Parse splits a chat line into a command name and its arguments. Lines not
// starting with '/' are not commands.
func Parse(message string) (name string, args []string, isCommand bool) {
	if !strings.HasPrefix(message, "/") {
		return "", nil, false
	}

	fields := strings.Fields(message[1:])
	if len(fields) == 0 {
		return "", nil, true
	}
	return fields[0], fields[1:], true
}

// Builtins returns the commands every server registers at startup. players
// lists the usernames currently connected.
func Builtins(r *Registry, players func() []string) []Command {
	return []Command{
		{
			Name:  "help",
			Usage: "/help",
			Handler: func(ctx *Context) {
				names := make([]string, 0)
				for _, cmd := range r.All() {
					names = append(names, cmd.Usage)
				}
				ctx.Reply("Commands: " + strings.Join(names, ", "))
			},
		},
		{
			Name:  "players",
			Usage: "/players",
			Handler: func(ctx *Context) {
				list := players()
				ctx.Reply(fmt.Sprintf("%d online: %s", len(list), strings.Join(list, ", ")))
			},
		},
	}
}
