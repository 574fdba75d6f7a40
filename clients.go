package eduquest

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Name of the cookie identifying a client (i.e. a browser) across requests.
const ClientCookie = "eduquest-client"

const (
	// Clients that have not sent a request for this long are forgotten.
	clientIdleTimeout = 24 * time.Hour
	// Idle clients are looked for at most this often.
	clientPruneInterval = time.Hour
	// Clients beyond this many are not tracked, i.e. follow the active agent.
	maxClients = 100_000
)

type client struct {
	controller *Agent
	lastSeen   time.Time
}

// Clients keeps track of the clients seen and of the agent controlling each of them.
// A client is controlled by the agent that was active when the client first showed up,
// until another agent claims it.
// Only clients that send back their cookie are tracked.
type Clients struct {
	mutex     sync.Mutex
	clients   map[string]*client
	now       func() time.Time
	lastPrune time.Time
	limit     int
}

func NewClients() *Clients {
	c := &Clients{
		clients: make(map[string]*client),
		now:     time.Now,
		limit:   maxClients,
	}
	c.lastPrune = c.now()
	return c
}

// Identify returns the client id of the request, and whether the client sent it.
// A new id is assigned, and set as a cookie on the response, if the request has none.
func (c *Clients) Identify(w http.ResponseWriter, r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(ClientCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id, false
}

// Controller returns the agent controlling the client.
// A client not seen before becomes controlled by the active agent, which may be nil.
func (c *Clients) Controller(id string, active *Agent) *Agent {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	if now.Sub(c.lastPrune) >= clientPruneInterval {
		c.prune(now)
	}
	cl, ok := c.clients[id]
	if !ok {
		if len(c.clients) >= c.limit {
			return active
		}
		cl = &client{controller: active}
		c.clients[id] = cl
	}
	cl.lastSeen = now
	return cl.controller
}

// Claim makes the agent the controller of all clients.
// It returns the number of clients that changed controller.
func (c *Clients) Claim(a *Agent) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	claimed := 0
	for _, cl := range c.clients {
		if cl.controller != a {
			cl.controller = a
			claimed++
		}
	}
	return claimed
}

// Replace hands the clients controlled by old over to new.
func (c *Clients) Replace(old, new *Agent) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	replaced := 0
	for _, cl := range c.clients {
		if cl.controller == old {
			cl.controller = new
			replaced++
		}
	}
	return replaced
}

// Count returns the number of clients known, and how many of them are controlled by the agent.
func (c *Clients) Count(a *Agent) (total, controlled int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, cl := range c.clients {
		total++
		if a != nil && cl.controller == a {
			controlled++
		}
	}
	return total, controlled
}

func (c *Clients) prune(now time.Time) {
	c.lastPrune = now
	for id, cl := range c.clients {
		if now.Sub(cl.lastSeen) > clientIdleTimeout {
			delete(c.clients, id)
		}
	}
}
