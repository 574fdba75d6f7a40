package eduquest

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	serializer "github.com/Mehalmpradeep/EduQuest/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type NetworkConfig struct {
	// URL of the origin server.
	// Origins with paths are not supported, Config.Validate rejects them.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Optional transport for origin requests. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Network fetches requests from the origin.
// It applies no timeouts and no retries: the request context is the only
// way a fetch ends early.
type Network struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
	log        zerolog.Logger
}

func NewNetwork(config NetworkConfig) *Network {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	n := &Network{
		originURL:  config.OriginURL,
		originHost: config.OriginHost,
		log:        logger.With().Str("origin", config.OriginURL.String()).Logger(),
		httpClient: http.Client{
			Transport: config.Transport,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if n.originHost != "" && n.httpClient.Transport == nil {
		n.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: n.originHost,
			},
		}
	}
	return n
}

// Origin returns the origin identifier, used to scope cache keys.
func (n *Network) Origin() string {
	return n.originURL.String()
}

// Fetch the resource specified in the incoming request from the origin.
func (n *Network) Fetch(r *http.Request) (serializer.TimedResponse, error) {
	timedRes := serializer.TimedResponse{RequestTime: time.Now()}
	uri := n.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		n.log.Error().Err(err).Str("uri", uri).Msg("Could not create request for fetching")
		return timedRes, err
	}
	req.ContentLength = r.ContentLength
	req.Host = n.originHost
	copyHeader(req.Header, r.Header)
	n.log.Trace().Str("method", req.Method).Str("uri", uri).Msg("Executing request")

	originResponse, err := n.httpClient.Do(req)
	timedRes.ResponseTime = time.Now()
	timedRes.Response = originResponse
	if originResponse != nil {
		// the response should refer to the client request, not the rewritten one
		originResponse.Request = r
	}
	return timedRes, err
}

// Pass pipes the request through to the origin and the response straight back to the client.
// Neither the request nor the response is touched on the way.
func (n *Network) Pass(w http.ResponseWriter, r *http.Request) {
	res, err := n.Fetch(r)
	if err != nil {
		n.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	if err := send(w, res.Response); err != nil {
		n.log.Error().Err(err).Msg("Error writing to client")
	}
}

func send(w http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(w, res.Body)
	return err
}

// Hop-by-hop headers, which only make sense on a single connection.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k == "X-Forwarded-For" || k == "X-Forwarded-Proto" || k == "X-Forwarded-Host" || hopHeaders[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
