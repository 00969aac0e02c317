package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// SNSPublisher is the subset of *sns.Client used by SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	Region   string
	Endpoint string // optional, e.g. LocalStack
	Timeout  time.Duration
}

// maxSubjectLen is the SNS limit on Subject.
const maxSubjectLen = 100

// SNS publishes notifications to SNS topics.
type SNS struct {
	client  SNSPublisher
	timeout time.Duration
}

// NewSNS loads the default AWS credential chain for cfg.Region.
func NewSNS(ctx context.Context, cfg SNSConfig) (*SNS, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewSNSWithClient(client).WithTimeout(cfg.Timeout), nil
}

func NewSNSWithClient(client SNSPublisher) *SNS {
	return &SNS{client: client, timeout: DefaultTimeout}
}

func (g *SNS) WithTimeout(d time.Duration) *SNS {
	if d > 0 {
		g.timeout = d
	}
	return g
}

func (g *SNS) Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult {
	start := time.Now()

	if dest.Kind() != domain.DestinationSNS {
		return malformed(dest, start, "not an SNS topic ARN")
	}

	message := n.Body
	if message == "" {
		message = n.Title
	}
	input := &sns.PublishInput{
		TopicArn: aws.String(dest.String()),
		Message:  aws.String(message),
	}
	if subject := snsSubject(n.Title); subject != "" {
		input.Subject = aws.String(subject)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.Publish(ctx, input)
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() > 0 {
			return domain.SendResult{
				Reason:     domain.FailureNon2xx,
				StatusCode: respErr.HTTPStatusCode(),
				Err:        fmt.Errorf("sns publish failed: %w", err),
				Duration:   time.Since(start),
			}
		}
		return unreachable(fmt.Errorf("sns publish failed: %w", err), start)
	}

	info := ""
	if out != nil && out.MessageId != nil {
		info = "sns message id " + *out.MessageId
	}
	return domain.SendResult{
		StatusCode: 200,
		Info:       info,
		Duration:   time.Since(start),
	}
}

// snsSubject flattens line breaks and truncates to the SNS limit.
func snsSubject(title string) string {
	s := strings.Join(strings.Fields(title), " ")
	if len(s) <= maxSubjectLen {
		return s
	}
	cut := maxSubjectLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
