// Пакет offsite — внешняя копия резервных копий в S3-совместимом хранилище
// (AWS S3, MinIO). Один бакет, ключи формируются как prefix + имя файла.
package offsite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrBucketRequired — не задан бакет.
var ErrBucketRequired = errors.New("не задан S3 бакет")

// Config — параметры подключения к S3.
// Endpoint задаёт S3-совместимый сервис (MinIO); пусто — AWS.
// Без AccessKeyID используется стандартная цепочка учётных данных AWS.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// Object — объект внешнего хранилища.
type Object struct {
	Name string
	Size int64
}

// Store — внешнее хранилище резервных копий.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New создаёт Store по конфигурации.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newWithClient(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Bucket возвращает имя бакета.
func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Upload загружает файл под именем name. Существующий объект перезаписывается.
// body должен поддерживать Seek (например *os.File) для подписи запроса.
func (s *Store) Upload(ctx context.Context, name string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        body,
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return fmt.Errorf("ошибка загрузки %s в S3: %w", name, err)
	}
	return nil
}

// Delete удаляет объект. Отсутствующий объект не ошибка.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления %s из S3: %w", name, err)
	}
	return nil
}

// List возвращает объекты под префиксом, отсортированные по имени.
func (s *Store) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("ошибка листинга S3: %w", err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Name: strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size: aws.ToInt64(obj.Size),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}
