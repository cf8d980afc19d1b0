package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/alert"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/config"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// EmailNotifier sends price-drop alerts over SMTP.
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send mails the alert to the configured recipient. Missing SMTP settings
// skip the send without error so tracking still works unnotified.
func (n *EmailNotifier) Send(ctx context.Context, a alert.Alert) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(n.cfg.ToEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", fmt.Sprintf("[PriceMonitor] 📉 %.1f%% de baja: %s", a.DropPercent, a.Title))
	m.SetBody("text/html", buildHTMLBody(a))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	metrics.NotificationsSentTotal.Inc()
	n.logger.Info("email notification sent",
		slog.String("to", n.cfg.ToEmail),
		slog.String("product_id", a.ProductID),
		slog.Float64("drop_percent", a.DropPercent))
	return nil
}

func buildHTMLBody(a alert.Alert) string {
	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[PriceMonitor] 📉 Bajó el precio</div>
    <div class="content">
      <div class="price">$ %s → $ %s (-%.1f%%)</div>
      <div class="title">%s</div>
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">Ver publicación</a>
      </div>
      <div class="footer">Producto: %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		formatARS(a.PreviousPrice), formatARS(a.CurrentPrice), a.DropPercent,
		a.Title, a.URL, a.ProductID)
}

// formatARS renders a price with dots as thousands separators and a comma
// decimal, the local convention.
func formatARS(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	parts := strings.SplitN(s, ".", 2)
	intPart, decPart := parts[0], parts[1]

	n := len(intPart)
	out := make([]byte, 0, n+n/3+3)
	for i := 0; i < n; i++ {
		out = append(out, intPart[i])
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, '.')
		}
	}
	if decPart == "00" {
		return string(out)
	}
	return string(out) + "," + decPart
}
