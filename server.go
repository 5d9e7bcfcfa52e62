package lockbox

type ServerConfig struct {
	// Issuer expected in bearer token claims.
	Issuer string
	// Secret verifies the HMAC token signature.
	Secret []byte
}

type Server struct {
	engine *Engine
	cfg    ServerConfig
}

func NewServer(engine *Engine, cfg ServerConfig) Server {
	return Server{
		engine: engine,
		cfg:    cfg,
	}
}
