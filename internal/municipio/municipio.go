package municipio

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrNotFound = errors.New("município não encontrado")

type Municipio struct {
	CodigoIBGE int    `json:"codigo_ibge"`
	UF         string `json:"uf"`
	Nome       string `json:"nome"`
}

var (
	nonAlphanumeric = regexp.MustCompile(`[^A-Z0-9 ]+`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Normalize remove acentos e pontuação: "São João d'Aliança" vira "SAO JOAO D ALIANCA".
func Normalize(nome string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, nome)
	if err != nil {
		result = nome
	}
	result = strings.ToUpper(result)
	result = nonAlphanumeric.ReplaceAllString(result, " ")
	result = whitespace.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// Store é a tabela de municípios do IBGE.
type Store interface {
	FindByNome(ctx context.Context, uf, nomeNormalizado string) (*Municipio, error)
	FindByCodigo(ctx context.Context, codigo int) (*Municipio, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByNome(ctx context.Context, uf, nomeNormalizado string) (*Municipio, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const query = `
		SELECT codigo_ibge, uf, nome
		FROM municipios
		WHERE uf = $1 AND nome_normalizado = $2`
	return scanMunicipio(r.db.QueryRow(ctx, query, uf, nomeNormalizado))
}

func (r *Repository) FindByCodigo(ctx context.Context, codigo int) (*Municipio, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const query = `SELECT codigo_ibge, uf, nome FROM municipios WHERE codigo_ibge = $1`
	return scanMunicipio(r.db.QueryRow(ctx, query, codigo))
}

func scanMunicipio(row pgx.Row) (*Municipio, error) {
	var m Municipio
	if err := row.Scan(&m.CodigoIBGE, &m.UF, &m.Nome); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Service resolve nomes com cache em redis. O cache é opcional.
type Service struct {
	store  Store
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewService(store Store, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Resolve devolve o código IBGE do município na UF. found=false quando não existe.
func (s *Service) Resolve(ctx context.Context, uf, nome string) (int, bool, error) {
	uf = strings.ToUpper(strings.TrimSpace(uf))
	normalizado := Normalize(nome)
	if uf == "" || normalizado == "" {
		return 0, false, nil
	}

	key := "municipio:" + uf + ":" + normalizado
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, key).Result(); err == nil {
			if code, convErr := strconv.Atoi(val); convErr == nil && code > 0 {
				return code, true, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("chave", key).Msg("cache de municípios indisponível")
		}
	}

	m, err := s.store.FindByNome(ctx, uf, normalizado)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.Itoa(m.CodigoIBGE), s.ttl).Err(); err != nil {
			s.logger.Warn().Err(err).Str("chave", key).Msg("falha ao gravar cache de municípios")
		}
	}
	return m.CodigoIBGE, true, nil
}

// Exists confere se o código pertence à UF informada.
func (s *Service) Exists(ctx context.Context, uf string, codigo int) (bool, error) {
	m, err := s.store.FindByCodigo(ctx, codigo)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(m.UF, strings.TrimSpace(uf)), nil
}
