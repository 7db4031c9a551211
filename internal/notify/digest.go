package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/nurture-engine/internal/config"
	"github.com/ignite/nurture-engine/internal/domain"
)

// sesSender is the slice of the SES v2 API the digest needs.
type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Digest emails nightly run summaries to operators via SES. A nil digest is
// valid and drops reports silently, so callers never branch on whether
// notification is configured.
type Digest struct {
	client     sesSender
	fromEmail  string
	fromName   string
	recipients []string
}

// NewDigest creates a digest sender from config. Returns nil (not an error)
// when notification is disabled or has no sender/recipients.
func NewDigest(ctx context.Context, cfg appconfig.NotifyConfig) (*Digest, error) {
	if !cfg.Enabled || cfg.FromEmail == "" || len(cfg.Recipients) == 0 {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Digest{
		client:     sesv2.NewFromConfig(awsCfg),
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		recipients: cfg.Recipients,
	}, nil
}

// SendRunDigest emails one run report to the configured recipients.
func (d *Digest) SendRunDigest(ctx context.Context, report *domain.RunReport) error {
	if d == nil {
		return nil
	}

	from := d.fromEmail
	if d.fromName != "" {
		from = fmt.Sprintf("%s <%s>", d.fromName, d.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: d.recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(digestSubject(report)), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(buildDigestHTML(report)), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(buildDigestText(report)), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := d.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("sending run digest: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[Notify] Run digest for %s sent to %d recipients (id: %s)", report.ID, len(d.recipients), messageID)
	return nil
}

func digestSubject(report *domain.RunReport) string {
	status := "completed"
	if report.Failed() {
		status = "FAILED"
	}
	return fmt.Sprintf("Nightly nurture run %s: %d new prospects, %d room moves",
		status, report.Prospects.Created, report.Rooms.Transitions)
}

func buildDigestHTML(report *domain.RunReport) string {
	var sb strings.Builder

	sb.WriteString(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: #2563eb; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
.header.failed { background: #dc2626; }
.stats-table { width: 100%; border-collapse: collapse; margin: 16px 0; }
.stats-table th, .stats-table td { border: 1px solid #e5e7eb; padding: 8px 12px; text-align: left; }
.stats-table th { background: #f3f4f6; }
.error { color: #dc2626; font-weight: bold; }
</style>
</head>
<body>
<div class="container">
`)

	headerClass := "header"
	if report.Failed() {
		headerClass = "header failed"
	}
	sb.WriteString(fmt.Sprintf(`<div class="%s">
<h1>Nightly Run Report</h1>
<p>%s mode &middot; run %s</p>
</div>
`, headerClass, report.Mode, report.ID))

	sb.WriteString(`<table class="stats-table">
<tr><th>Stage</th><th>Results</th></tr>
`)
	sb.WriteString(fmt.Sprintf(`<tr><td>Campaign matching</td><td>%d matched, %d skipped</td></tr>
`, report.Match.Matched, report.Match.Skipped))
	sb.WriteString(fmt.Sprintf(`<tr><td>Lead scoring</td><td>%d scored, %d errors</td></tr>
`, report.Scores.Scored, report.Scores.Errors))
	sb.WriteString(fmt.Sprintf(`<tr><td>Prospects</td><td>%d created, %d updated, %d skipped, %d errors</td></tr>
`, report.Prospects.Created, report.Prospects.Updated, report.Prospects.Skipped, report.Prospects.Errors))
	sb.WriteString(fmt.Sprintf(`<tr><td>Room assignment</td><td>%d transitions, %d errors</td></tr>
`, report.Rooms.Transitions, report.Rooms.Errors))
	sb.WriteString(`</table>
`)

	if report.Failed() {
		sb.WriteString(fmt.Sprintf(`<p class="error">Run aborted: %s</p>
`, report.Error))
	}

	sb.WriteString(fmt.Sprintf(`<p>Started %s &middot; took %.1fs</p>
</div>
</body>
</html>`, report.StartedAt.UTC().Format("2006-01-02 15:04 MST"), float64(report.DurationMS)/1000))

	return sb.String()
}

func buildDigestText(report *domain.RunReport) string {
	var sb strings.Builder

	status := "completed"
	if report.Failed() {
		status = "FAILED"
	}
	sb.WriteString(fmt.Sprintf("NIGHTLY RUN REPORT\n\nRun %s (%s mode) %s in %.1fs\n\n",
		report.ID, report.Mode, status, float64(report.DurationMS)/1000))

	sb.WriteString(fmt.Sprintf("- Campaign matching: %d matched, %d skipped\n", report.Match.Matched, report.Match.Skipped))
	sb.WriteString(fmt.Sprintf("- Lead scoring: %d scored, %d errors\n", report.Scores.Scored, report.Scores.Errors))
	sb.WriteString(fmt.Sprintf("- Prospects: %d created, %d updated, %d skipped, %d errors\n",
		report.Prospects.Created, report.Prospects.Updated, report.Prospects.Skipped, report.Prospects.Errors))
	sb.WriteString(fmt.Sprintf("- Room assignment: %d transitions, %d errors\n", report.Rooms.Transitions, report.Rooms.Errors))

	if report.Failed() {
		sb.WriteString(fmt.Sprintf("\nRun aborted: %s\n", report.Error))
	}

	return sb.String()
}
