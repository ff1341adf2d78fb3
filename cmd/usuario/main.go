package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/otenielpinto/mdfe/internal/auth"
	"github.com/otenielpinto/mdfe/internal/db"
	"github.com/otenielpinto/mdfe/internal/usuario"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	// hash não precisa de banco
	if cmd == "hash" {
		if err := runHash(args); err != nil {
			log.Fatal().Err(err).Msg("falha ao gerar hash")
		}
		return
	}

	_ = godotenv.Load()

	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		log.Fatal().Msg("defina DB_DSN ou DATABASE_URL")
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("não foi possível conectar ao banco")
	}
	defer pool.Close()

	// o CLI não emite tokens
	service := usuario.NewService(usuario.NewRepository(pool), nil, log.Logger)

	switch cmd {
	case "create":
		if err := runCreate(ctx, service, args); err != nil {
			log.Fatal().Err(err).Msg("falha ao criar usuário")
		}
	case "list":
		if err := runList(ctx, service, args); err != nil {
			log.Fatal().Err(err).Msg("falha ao listar usuários")
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usuario CLI")
	fmt.Fprintln(os.Stderr, "uso:")
	fmt.Fprintln(os.Stderr, "  usuario create --tenant <uuid> --empresa <uuid> --nome \"Fulano\" --email fiscal@empresa.com.br --senha segredo123 [--papeis ADMIN,EMISSOR]")
	fmt.Fprintln(os.Stderr, "  usuario list --tenant <uuid> --empresa <uuid>")
	fmt.Fprintln(os.Stderr, "  usuario hash <senha>")
}

func parseScope(tenant, empresa string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuid.Parse(strings.TrimSpace(tenant))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("tenant inválido")
	}
	empresaID, err := uuid.Parse(strings.TrimSpace(empresa))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("empresa inválida")
	}
	return tenantID, empresaID, nil
}

func runCreate(ctx context.Context, service *usuario.Service, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		tenant  = fs.String("tenant", "", "id do tenant")
		empresa = fs.String("empresa", "", "id da empresa emitente")
		nome    = fs.String("nome", "", "nome do usuário")
		email   = fs.String("email", "", "e-mail de login")
		senha   = fs.String("senha", "", "senha inicial (mín. 8 caracteres)")
		papeis  = fs.String("papeis", usuario.PapelEmissor, "papéis separados por vírgula")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	tenantID, empresaID, err := parseScope(*tenant, *empresa)
	if err != nil {
		return err
	}

	created, err := service.Create(ctx, usuario.CreateInput{
		TenantID:  tenantID,
		EmpresaID: empresaID,
		Nome:      *nome,
		Email:     *email,
		Senha:     *senha,
		Papeis:    strings.Split(*papeis, ","),
	})
	if err != nil {
		return err
	}

	output, _ := json.MarshalIndent(created, "", "  ")
	fmt.Println(string(output))
	return nil
}

func runList(ctx context.Context, service *usuario.Service, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tenant := fs.String("tenant", "", "id do tenant")
	empresa := fs.String("empresa", "", "id da empresa emitente")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tenantID, empresaID, err := parseScope(*tenant, *empresa)
	if err != nil {
		return err
	}

	list, err := service.List(ctx, tenantID, empresaID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("nenhum usuário cadastrado")
		return nil
	}

	encoded, _ := json.MarshalIndent(list, "", "  ")
	fmt.Println(string(encoded))
	return nil
}

func runHash(args []string) error {
	if len(args) < 1 {
		return errors.New("informe a senha")
	}
	hash, err := auth.Hash(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
