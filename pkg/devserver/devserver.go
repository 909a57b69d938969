// Package devserver is a local stand-in for the wallet backend and the price oracle.
// It issues short-lived JWT pairs so the refresh path can be exercised end to end.
package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config controls the dev backend.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Prices         map[string]float64 // token id -> USD
	NativePrice    float64
	NativeGrant    float64 // native balance given to a freshly restored wallet
	StableContract string  // credited by deposits
	KESPerUSD      float64

	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultConfig returns a config with a one minute access TTL.
func DefaultConfig() Config {
	return Config{
		Secret:     []byte("coinsafe-dev-secret"),
		AccessTTL:  time.Minute,
		RefreshTTL: 24 * time.Hour,
		Prices: map[string]float64{
			"tether":   1,
			"usd-coin": 1,
			"just":     0.03,
			"ethereum": 2500,
		},
		NativePrice:    0.12,
		NativeGrant:    100,
		StableContract: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		KESPerUSD:      129,
		Now:            time.Now,
		Logger:         zerolog.Nop(),
	}
}

type Server struct {
	cfg    Config
	tokens *issuer
	ledger *ledger
	engine *gin.Engine
	log    zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg: cfg,
		tokens: &issuer{
			secret:     cfg.Secret,
			accessTTL:  cfg.AccessTTL,
			refreshTTL: cfg.RefreshTTL,
			now:        cfg.Now,
		},
		ledger: newLedger(),
		log:    cfg.Logger,
	}
	s.engine = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/auth/refresh", s.refresh)
	router.POST("/api/wallet/restore/", s.restore)
	router.GET("/api/wallet/create/", s.createWallet)
	router.POST("/api/auth/register/", s.register)
	router.POST("/api/auth/login/", s.login)

	api := router.Group("/")
	api.Use(s.authMiddleware())
	{
		api.POST("/prices", s.prices)
		api.POST("/balances", s.balances)
		api.POST("/trx-data", s.chainSummary)
		api.GET("/transactions/:network/:address", s.transactions)
		api.GET("/transactions/:network/:address/:contract", s.transactions)
		api.POST("/api/wallet/transfer/", s.transfer)
		api.POST("/api/wallet/withdraw/", s.withdraw)
		api.POST("/api/payments/pay/", s.deposit)
		api.GET("/api/payments/history/", s.paymentHistory)
	}
	return router
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Dur("access_ttl", s.cfg.AccessTTL).Msg("dev backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Issue creates a credential pair for address, as a restore would.
func (s *Server) Issue(address string) (access, refresh string, err error) {
	return s.tokens.pair(address)
}

// Credit adds amount of contract to address.
func (s *Server) Credit(address, contract string, amount float64) {
	s.ledger.credit(address, contract, decimal.NewFromFloat(amount))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("request_id", c.GetHeader("X-Request-ID")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	}
}

// authMiddleware validates the bearer access token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}

		subject, err := s.tokens.verify(strings.TrimPrefix(auth, "Bearer "), audienceAccess)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
			}
			return
		}
		c.Set("subject", subject)
		c.Next()
	}
}

func (s *Server) refresh(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
		return
	}

	subject, err := s.tokens.verify(req.Refresh, audienceRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired"})
		return
	}
	access, err := s.tokens.access(subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

func (s *Server) restore(c *gin.Context) {
	var req struct {
		Mnemonic string `json:"mnemonic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
		return
	}

	address, key := s.openWallet(req.Mnemonic)

	access, refresh, err := s.tokens.pair(address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to issue tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":    address,
		"privateKey": key,
		"mnemonic":   gin.H{"phrase": req.Mnemonic},
		"access":     access,
		"refresh":    refresh,
	})
}

// openWallet derives the wallet for mnemonic and funds it on first sight.
func (s *Server) openWallet(mnemonic string) (address, key string) {
	address, key = deriveWallet(mnemonic)
	s.ledger.register(address, key)
	if s.ledger.nativeBalance(address).IsZero() {
		s.ledger.setNative(address, decimal.NewFromFloat(s.cfg.NativeGrant))
	}
	return address, key
}

func (s *Server) createWallet(c *gin.Context) {
	mnemonic := newMnemonic()
	address, key := s.openWallet(mnemonic)
	c.JSON(http.StatusOK, gin.H{
		"address":    address,
		"privateKey": key,
		"mnemonic":   gin.H{"phrase": mnemonic},
	})
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		PhoneNumber   string `json:"phone_number" binding:"required"`
		Password      string `json:"password" binding:"required"`
		WalletAddress string `json:"wallet_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
		return
	}

	if err := s.ledger.addAccount(req.PhoneNumber, req.Password, req.WalletAddress); err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "An account with this phone number already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create account"})
		return
	}
	access, refresh, err := s.tokens.pair(req.WalletAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to issue tokens"})
		return
	}
	s.log.Info().Str("phone", req.PhoneNumber).Str("wallet", req.WalletAddress).Msg("account created")
	c.JSON(http.StatusCreated, gin.H{
		"status":  "Account Created",
		"token":   access,
		"refresh": refresh,
	})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
		Password    string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
		return
	}

	wallet, err := s.ledger.authenticate(req.PhoneNumber, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh, err := s.tokens.pair(wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to issue tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access, "refresh": refresh, "wallet_address": wallet})
}

func (s *Server) paymentHistory(c *gin.Context) {
	wallet := c.Query("wallet_address")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "wallet_address is required"})
		return
	}
	if subject := c.GetString("subject"); subject != wallet {
		c.JSON(http.StatusForbidden, gin.H{"detail": "You do not have permission to view this wallet"})
		return
	}

	list := s.ledger.paymentHistory(wallet)
	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		kes, _ := p.AmountKES.Float64()
		amount, _ := p.Amount.Float64()
		out = append(out, gin.H{
			"id":           p.ID,
			"type":         p.Type,
			"amount_kes":   kes,
			"amount":       amount,
			"phone_number": p.PhoneNumber,
			"status":       p.Status,
			"tx_hash":      p.TxHash,
			"created_at":   time.UnixMilli(p.CreatedAt).UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) prices(c *gin.Context) {
	var req struct {
		IDs string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	out := gin.H{}
	for _, id := range strings.Split(req.IDs, ",") {
		if p, ok := s.cfg.Prices[strings.TrimSpace(id)]; ok {
			out[id] = gin.H{"usd": p}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) balances(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
		ListOfTokens  []struct {
			Contract string `json:"contract"`
		} `json:"listOfTokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	out := make([]gin.H, 0, len(req.ListOfTokens))
	for _, t := range req.ListOfTokens {
		bal, _ := s.ledger.balance(req.WalletAddress, t.Contract).Float64()
		out = append(out, gin.H{"address": t.Contract, "balance": bal})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) chainSummary(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	bal := s.ledger.nativeBalance(req.WalletAddress)
	price := decimal.NewFromFloat(s.cfg.NativePrice)
	b, _ := bal.Float64()
	total, _ := bal.Mul(price).Float64()
	c.JSON(http.StatusOK, gin.H{"price": s.cfg.NativePrice, "balance": b, "totalUSD": total})
}

func (s *Server) transactions(c *gin.Context) {
	list := s.ledger.transfers(c.Param("address"), c.Param("contract"))
	out := make([]gin.H, 0, len(list))
	for _, t := range list {
		amount, _ := t.Amount.Float64()
		out = append(out, gin.H{
			"hash":      t.Hash,
			"from":      t.From,
			"to":        t.To,
			"amount":    amount,
			"timestamp": t.Timestamp,
			"status":    "SUCCESS",
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) transfer(c *gin.Context) {
	var req struct {
		ToAddress  string `json:"to_address" binding:"required"`
		Amount     string `json:"amount" binding:"required"`
		PrivateKey string `json:"privateKey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	t, err := s.newTransfer(req.PrivateKey, req.ToAddress, req.Amount)
	if err == nil {
		err = s.ledger.move(t)
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"result": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": true, "tx_hash": t.Hash})
}

func (s *Server) withdraw(c *gin.Context) {
	var req struct {
		Amount      string `json:"amount" binding:"required"`
		PhoneNumber string `json:"phone_number" binding:"required"`
		PrivateKey  string `json:"privateKey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	t, err := s.newTransfer(req.PrivateKey, "", req.Amount)
	if err == nil {
		err = s.ledger.move(t)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ledger.recordPayment(t.From, payment{
		ID:          uuid.NewString(),
		Type:        "WITHDRAWAL",
		AmountKES:   t.Amount.Mul(decimal.NewFromFloat(s.cfg.KESPerUSD)).Round(2),
		Amount:      t.Amount,
		PhoneNumber: req.PhoneNumber,
		Status:      "COMPLETED",
		TxHash:      t.Hash,
		CreatedAt:   t.Timestamp,
	})
	s.log.Info().Str("phone", req.PhoneNumber).Str("amount", req.Amount).Msg("payout queued")
	c.JSON(http.StatusOK, gin.H{"tx_hash": t.Hash})
}

func (s *Server) deposit(c *gin.Context) {
	var req struct {
		AmountKES     string `json:"amount_kes" binding:"required"`
		PhoneNumber   string `json:"phone_number" binding:"required"`
		WalletAddress string `json:"wallet_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	kes, err := decimal.NewFromString(req.AmountKES)
	if err != nil || !kes.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	// The STK push is assumed to succeed immediately.
	amount := kes.Div(decimal.NewFromFloat(s.cfg.KESPerUSD)).Round(6)
	s.ledger.credit(req.WalletAddress, s.cfg.StableContract, amount)
	s.ledger.recordPayment(req.WalletAddress, payment{
		ID:          uuid.NewString(),
		Type:        "DEPOSIT",
		AmountKES:   kes,
		Amount:      amount,
		PhoneNumber: req.PhoneNumber,
		Status:      "COMPLETED",
		CreatedAt:   s.cfg.Now().UnixMilli(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "STK_SENT"})
}

func (s *Server) newTransfer(privateKey, to, amount string) (transfer, error) {
	from, ok := s.ledger.owner(privateKey)
	if !ok {
		return transfer{}, errors.New("unknown private key")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return transfer{}, errors.New("invalid amount")
	}
	return transfer{
		Hash:      crypto.Keccak256Hash([]byte(uuid.NewString())).Hex(),
		From:      from,
		To:        to,
		Contract:  s.cfg.StableContract,
		Amount:    d,
		Timestamp: s.cfg.Now().UnixMilli(),
	}, nil
}
