package eduquest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoWaitingAgent is returned when promoting a waiting agent while there is none.
var ErrNoWaitingAgent = errors.New("no waiting agent")

type RegistrationConfig struct {
	// Network used for requests of clients not controlled by any agent.
	Network *Network
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Registration hosts the agents: it drives their lifecycle and routes
// each client's requests to the agent controlling that client.
type Registration struct {
	network *Network
	clients *Clients
	log     zerolog.Logger
	// serialises lifecycle changes
	registerMutex sync.Mutex
	// guards active and waiting
	mutex   sync.RWMutex
	active  *Agent
	waiting *Agent
}

func NewRegistration(config RegistrationConfig) *Registration {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Registration{
		network: config.Network,
		clients: NewClients(),
		log:     logger.With().Str("component", "registration").Logger(),
	}
}

// Register installs the agent and activates it if it asked to skip waiting or if there
// is no active agent yet. Otherwise the agent waits to be promoted with SkipWaiting.
// If install fails, the agent is redundant and the active agent keeps serving.
func (reg *Registration) Register(ctx context.Context, a *Agent) error {
	reg.registerMutex.Lock()
	defer reg.registerMutex.Unlock()

	a.clients = reg.clients
	if err := a.Install(ctx); err != nil {
		reg.log.Error().Err(err).Str("version", a.Version()).Msg("Agent install failed")
		return err
	}

	reg.mutex.RLock()
	hasActive := reg.active != nil
	reg.mutex.RUnlock()
	if a.skippingWaiting() || !hasActive {
		return reg.activate(ctx, a)
	}

	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	if reg.waiting != nil {
		reg.waiting.setState(StateRedundant)
	}
	reg.waiting = a
	reg.log.Info().Str("version", a.Version()).Msg("Agent waiting")
	return nil
}

// SkipWaiting activates the waiting agent.
func (reg *Registration) SkipWaiting(ctx context.Context) error {
	reg.registerMutex.Lock()
	defer reg.registerMutex.Unlock()

	reg.mutex.RLock()
	a := reg.waiting
	reg.mutex.RUnlock()
	if a == nil {
		return ErrNoWaitingAgent
	}
	a.SkipWaiting()
	return reg.activate(ctx, a)
}

// activate makes the agent the active one and runs its activate phase.
// Requests wait for activation to finish, so none of them sees a half-activated agent.
func (reg *Registration) activate(ctx context.Context, a *Agent) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	previous := reg.active
	if reg.waiting != nil && reg.waiting != a {
		reg.waiting.setState(StateRedundant)
	}
	reg.waiting = nil
	reg.active = a
	if previous != nil && previous != a {
		previous.setState(StateRedundant)
		switched := reg.clients.Replace(previous, a)
		reg.log.Info().
			Str("from", previous.Version()).
			Str("to", a.Version()).
			Int("clients", switched).
			Msg("Agent superseded")
	}
	if err := a.Activate(ctx); err != nil {
		reg.log.Error().Err(err).Str("version", a.Version()).Msg("Agent activate failed")
		return err
	}
	return nil
}

// Active returns the active agent, or nil if there is none.
func (reg *Registration) Active() *Agent {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return reg.active
}

// Waiting returns the installed agent waiting to be activated, or nil if there is none.
func (reg *Registration) Waiting() *Agent {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return reg.waiting
}

func (reg *Registration) Clients() *Clients {
	return reg.clients
}

// ServeHTTP implements the http.Handler interface.
// Requests of controlled clients go to the controlling agent, other requests go to the network.
// Only GET requests are intercepted: anything else goes to the network untouched,
// without the client cookie.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reg.network.Pass(w, r)
		return
	}
	id, returning := reg.clients.Identify(w, r)
	reg.mutex.RLock()
	controller := reg.active
	if returning {
		controller = reg.clients.Controller(id, reg.active)
	}
	reg.mutex.RUnlock()

	if controller == nil {
		reg.log.Trace().Str("client", id).Str("url", r.URL.String()).Msg("Uncontrolled client")
		reg.network.Pass(w, r)
		return
	}
	controller.ServeHTTP(w, r)
}
