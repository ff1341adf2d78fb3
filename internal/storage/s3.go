package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// S3Config descreve um bucket compatível com S3 (AWS, R2, MinIO).
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	HTTPClient   *http.Client
}

// S3Uploader envia artefatos com PUT assinado em SigV4.
type S3Uploader struct {
	cfg    S3Config
	client *http.Client
	signer sigV4
	now    func() time.Time
}

// NewS3Uploader valida a configuração e monta o uploader.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &S3Uploader{
		cfg:    cfg,
		client: client,
		signer: sigV4{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey, region: cfg.Region, service: "s3"},
		now:    time.Now,
	}, nil
}

// Upload grava o objeto e devolve a URL pública quando STORAGE_S3_PUBLIC_URL existe.
func (u *S3Uploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	key := strings.TrimLeft(strings.TrimSpace(input.Key), "/")
	if key == "" {
		return nil, errors.New("storage: chave do objeto obrigatória")
	}
	if len(input.Body) == 0 {
		return nil, errors.New("storage: corpo vazio")
	}

	escapedKey := (&url.URL{Path: key}).EscapedPath()
	target := fmt.Sprintf("%s/%s/%s", strings.TrimRight(u.cfg.Endpoint, "/"), u.cfg.Bucket, escapedKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(input.Body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(input.Body))

	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", strconv.Itoa(len(input.Body)))
	for k, v := range input.Metadata {
		req.Header.Set("x-amz-meta-"+strings.ToLower(k), v)
	}

	sum := sha256.Sum256(input.Body)
	u.signer.sign(req, hex.EncodeToString(sum[:]), u.now().UTC())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("storage: upload falhou (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	publicURL := target
	if domain := strings.TrimSpace(u.cfg.PublicDomain); domain != "" {
		publicURL = strings.TrimRight(domain, "/") + "/" + escapedKey
	}

	return &UploadResult{URL: publicURL, ETag: strings.Trim(resp.Header.Get("ETag"), `"`)}, nil
}

func (cfg S3Config) validate() error {
	required := []struct{ value, name string }{
		{cfg.Endpoint, "endpoint"},
		{cfg.Region, "região"},
		{cfg.Bucket, "bucket"},
		{cfg.AccessKey, "access key"},
		{cfg.SecretKey, "secret key"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("storage: %s do S3 ausente", r.name)
		}
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return errors.New("storage: endpoint deve incluir protocolo http/https")
	}
	return nil
}

// sigV4 assina requisições no esquema AWS Signature Version 4.
type sigV4 struct {
	accessKey string
	secretKey string
	region    string
	service   string
}

func (s sigV4) sign(req *http.Request, payloadHash string, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	headerBlock, signedHeaders := s.canonicalHeaders(req)
	canonical := strings.Join([]string{
		req.Method,
		awsEscape(ensureSlash(req.URL.Path), false),
		canonicalQuery(req.URL.Query()),
		headerBlock,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := day + "/" + s.region + "/" + s.service + "/aws4_request"
	canonicalSum := sha256.Sum256([]byte(canonical))
	toSign := "AWS4-HMAC-SHA256\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(canonicalSum[:])

	key := hmacSHA256([]byte("AWS4"+s.secretKey), []byte(day))
	for _, part := range []string{s.region, s.service, "aws4_request"} {
		key = hmacSHA256(key, []byte(part))
	}
	signature := hex.EncodeToString(hmacSHA256(key, []byte(toSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.accessKey, scope, signedHeaders, signature,
	))
}

// canonicalHeaders assina host, content-type e todos os x-amz-*.
func (s sigV4) canonicalHeaders(req *http.Request) (string, string) {
	values := map[string]string{"host": req.URL.Host}
	for k, vals := range req.Header {
		lower := strings.ToLower(k)
		if lower != "content-type" && !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		trimmed := make([]string, len(vals))
		for i, v := range vals {
			trimmed[i] = strings.TrimSpace(v)
		}
		values[lower] = strings.Join(trimmed, ",")
	}

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	var block strings.Builder
	for _, k := range names {
		block.WriteString(k + ":" + values[k] + "\n")
	}
	return block.String(), strings.Join(names, ";")
}

func canonicalQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, awsEscape(k, true)+"="+awsEscape(v, true))
		}
	}
	return strings.Join(parts, "&")
}

func ensureSlash(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// awsEscape segue a regra de URI encoding do SigV4 (RFC 3986, sem '+').
func awsEscape(in string, escapeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !escapeSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
