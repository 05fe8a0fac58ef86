package template

import "github.com/eci-platform/notifyd/internal/domain"

type templateDef struct {
	eventType string
	channel   domain.Channel
	locale    string
	subject   string
	body      string
}

// builtinTemplates covers the e-commerce event catalogue. Shipment events
// additionally fan out to SMS.
var builtinTemplates = []templateDef{
	{
		eventType: "order.confirmed",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Order Confirmation - Order #{{.order_id}}",
		body: `
Dear {{.customer_name}},

Thank you for your order!

Order Details:
- Order ID: {{.order_id}}
- Order Total: {{.order_total}}

Your order is being processed and you will receive a shipping confirmation soon.

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "order.cancelled",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Order Cancelled - Order #{{.order_id}}",
		body: `
Dear {{.customer_name}},

Your order has been cancelled as requested.

Order Details:
- Order ID: {{.order_id}}
- Cancellation Reason: {{.reason}}

If you paid for this order, a refund will be processed within 5-7 business days.

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "order.delivered",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Order Delivered - Order #{{.order_id}}",
		body: `
Dear Customer,

Your order has been successfully delivered!

Order ID: {{.order_id}}

Thank you for shopping with us!

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "payment.succeeded",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Payment Successful - Order #{{.order_id}}",
		body: `
Dear Customer,

Your payment has been processed successfully!

Payment Details:
- Payment ID: {{.payment_id}}
- Order ID: {{.order_id}}
- Amount: {{.amount}}

Your order will be shipped soon.

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "payment.failed",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Payment Failed - Order #{{.order_id}}",
		body: `
Dear Customer,

Your payment could not be processed.

Order ID: {{.order_id}}
Amount: {{.amount}}
Reason: {{.reason}}

Please try again or use a different payment method.

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "payment.refunded",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Refund Processed - Order #{{.order_id}}",
		body: `
Dear Customer,

Your refund has been processed successfully!

Order ID: {{.order_id}}
Refund Amount: {{.refund_amount}}

The amount will be credited to your original payment method within 5-7 business days.

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "shipment.shipped",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Your Order has been Shipped - Order #{{.order_id}}",
		body: `
Dear Customer,

Good news! Your order has been shipped.

Shipment Details:
- Order ID: {{.order_id}}
- Carrier: {{.carrier}}
- Tracking Number: {{.tracking_no}}

Thank you for your patience!

Best regards,
ECI E-commerce Team
`,
	},
	{
		eventType: "shipment.shipped",
		channel:   domain.ChannelSMS,
		locale:    "en",
		subject:   "Order #{{.order_id}} shipped",
		body:      `Your order #{{.order_id}} has been shipped via {{.carrier}}. Track: {{.tracking_no}}`,
	},
	{
		eventType: "shipment.delivered",
		channel:   domain.ChannelEmail,
		locale:    "en",
		subject:   "Order Delivered - Order #{{.order_id}}",
		body: `
Dear Customer,

Your order has been successfully delivered!

Order ID: {{.order_id}}

Thank you for shopping with us!

Best regards,
ECI E-commerce Team
`,
	},
}
