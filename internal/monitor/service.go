package monitor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/config"
	"github.com/otenielpinto/mdfe/internal/mdfe"
	"github.com/otenielpinto/mdfe/internal/notify"
	"github.com/otenielpinto/mdfe/internal/sefaz"
)

// cStat da consulta de status do serviço.
const (
	CStatEmOperacao  = 107
	CStatParalisado  = 108
	CStatSemPrevisao = 109
)

const alertCooldown = 30 * time.Minute

// Gateway é o subconjunto do cliente fiscal usado pelo monitor.
type Gateway interface {
	Do(ctx context.Context, op sefaz.Operacao, payload any) sefaz.Result
}

// Health é a última leitura do serviço de uma UF.
type Health struct {
	UF                 string    `json:"uf"`
	Disponivel         bool      `json:"disponivel"`
	CStat              int       `json:"cStat,omitempty"`
	XMotivo            string    `json:"xMotivo,omitempty"`
	Erro               string    `json:"erro,omitempty"`
	LatenciaMS         int64     `json:"latencia_ms"`
	FalhasConsecutivas int       `json:"falhas_consecutivas"`
	VerificadoEm       time.Time `json:"verificado_em"`
}

// Service consulta periodicamente o status da SEFAZ e alerta quando uma UF cai.
type Service struct {
	gateway  Gateway
	store    Store
	cfg      config.MonitorConfig
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.RWMutex
	health     map[string]Health
	lastAlerts map[string]time.Time

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService cria o monitor. store pode ser nil: o estado fica só em memória.
func NewService(gateway Gateway, store Store, cfg config.MonitorConfig, notifier notify.Notifier, logger zerolog.Logger) *Service {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Service{
		gateway:    gateway,
		store:      store,
		cfg:        cfg,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		health:     map[string]Health{},
		lastAlerts: map[string]time.Time{},
	}
}

// Start inicia o loop periódico. Pode ser chamado mais de uma vez.
func (s *Service) Start(parent context.Context) {
	if !s.cfg.Enabled || len(s.cfg.UFs) == 0 {
		return
	}
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.runLoop(ctx)
	})
}

// Stop encerra o loop e espera a verificação em curso terminar.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Service) runLoop(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Strs("ufs", s.cfg.UFs).Msg("monitor: loop iniciado")
	if err := s.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("monitor: histórico indisponível; contagem de falhas reinicia")
	}
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("monitor: loop encerrado")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Restore carrega a última verificação persistida de cada UF, para que a
// contagem de falhas sobreviva a um reinício.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	latest, err := s.store.LatestByUF(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range latest {
		if _, ok := s.health[h.UF]; !ok {
			s.health[h.UF] = h
		}
	}
	return nil
}

// History devolve as últimas verificações da UF, da mais recente para a mais antiga.
func (s *Service) History(ctx context.Context, uf string, limit int) ([]Health, error) {
	if s.store == nil {
		return []Health{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.History(ctx, strings.ToUpper(strings.TrimSpace(uf)), limit)
}

// RunOnce verifica todas as UFs configuradas.
func (s *Service) RunOnce(ctx context.Context) {
	for _, uf := range s.cfg.UFs {
		if ctx.Err() != nil {
			return
		}
		s.check(ctx, uf)
	}
}

func (s *Service) check(ctx context.Context, uf string) {
	cUF, ok := mdfe.CodigoUF(uf)
	if !ok {
		s.logger.Warn().Str("uf", uf).Msg("monitor: uf inválida ignorada")
		return
	}

	res := s.gateway.Do(ctx, sefaz.OperacaoStatus, map[string]any{"uf": uf, "cUF": cUF})

	h := Health{UF: uf, LatenciaMS: res.Duration.Milliseconds(), VerificadoEm: s.now()}
	switch {
	case res.Success && res.Data != nil:
		h.CStat = int(res.Data.CStat)
		h.XMotivo = res.Data.XMotivo
		h.Disponivel = h.CStat == CStatEmOperacao
	case res.Error != nil:
		h.Erro = res.Error.Code + ": " + res.Error.Message
	default:
		h.Erro = "resposta vazia do gateway"
	}

	s.mu.Lock()
	prev, seen := s.health[uf]
	if !h.Disponivel {
		h.FalhasConsecutivas = prev.FalhasConsecutivas + 1
	}
	s.health[uf] = h
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.InsertCheck(ctx, h); err != nil {
			s.logger.Warn().Err(err).Str("uf", uf).Msg("monitor: falha ao gravar verificação")
		}
	}

	logEvt := s.logger.Debug()
	if !h.Disponivel {
		logEvt = s.logger.Warn()
	}
	logEvt.Str("uf", uf).Int("cstat", h.CStat).Int64("latencia_ms", h.LatenciaMS).Str("erro", h.Erro).Msg("monitor: status sefaz")

	s.evaluateAlerts(ctx, h, prev, seen, res.Duration)
}

func (s *Service) evaluateAlerts(ctx context.Context, h, prev Health, seen bool, latency time.Duration) {
	switch {
	case h.FalhasConsecutivas == s.cfg.FailureThreshold:
		severity := notify.SeverityWarning
		if h.CStat == CStatSemPrevisao || h.Erro != "" {
			severity = notify.SeverityCritical
		}
		s.alert(ctx, h.UF, "indisponivel", severity,
			fmt.Sprintf("SEFAZ %s indisponível há %d verificações", h.UF, h.FalhasConsecutivas), h)
	case h.Disponivel && seen && prev.FalhasConsecutivas >= s.cfg.FailureThreshold:
		// recuperação sempre avisa, sem cooldown
		s.mu.Lock()
		delete(s.lastAlerts, h.UF+":indisponivel")
		s.mu.Unlock()
		s.send(ctx, notify.SeverityInfo, fmt.Sprintf("SEFAZ %s voltou a operar", h.UF), h)
	}

	if !h.Disponivel {
		return
	}
	switch {
	case s.cfg.LatencyCritical > 0 && latency > s.cfg.LatencyCritical:
		s.alert(ctx, h.UF, "latencia", notify.SeverityCritical,
			fmt.Sprintf("Resposta %s acima do limite (%s)", latency.Round(time.Millisecond), s.cfg.LatencyCritical), h)
	case s.cfg.LatencyWarning > 0 && latency > s.cfg.LatencyWarning:
		s.alert(ctx, h.UF, "latencia", notify.SeverityWarning,
			fmt.Sprintf("Resposta %s acima do limite (%s)", latency.Round(time.Millisecond), s.cfg.LatencyWarning), h)
	}
}

func (s *Service) alert(ctx context.Context, uf, tipo, severity, text string, h Health) {
	key := uf + ":" + tipo
	now := s.now()

	s.mu.Lock()
	last, ok := s.lastAlerts[key]
	if ok && now.Sub(last) < alertCooldown {
		s.mu.Unlock()
		return
	}
	s.lastAlerts[key] = now
	s.mu.Unlock()

	s.send(ctx, severity, text, h)
}

func (s *Service) send(ctx context.Context, severity, text string, h Health) {
	if s.notifier == nil {
		return
	}
	fields := map[string]string{
		"uf":          h.UF,
		"latencia_ms": strconv.FormatInt(h.LatenciaMS, 10),
	}
	if h.CStat != 0 {
		fields["cStat"] = strconv.Itoa(h.CStat)
	}
	if h.Erro != "" {
		fields["erro"] = h.Erro
	}
	if err := s.notifier.Notify(ctx, notify.Alert{
		Title:    "Monitor SEFAZ",
		Text:     text,
		Severity: severity,
		Fields:   fields,
	}); err != nil {
		s.logger.Error().Err(err).Str("uf", h.UF).Msg("monitor: falha ao enviar alerta")
	}
}

// Summaries devolve a última leitura de cada UF, em ordem alfabética.
func (s *Service) Summaries() []Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Health, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UF < out[j].UF })
	return out
}
