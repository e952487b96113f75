package config

// 以下清单来自 POS 前端的静态资源与接口约定，配置文件未声明时作为默认值。

var defaultAppShell = []string{
	"/",
	"/offline.html",
	"/manifest.json",
	"/assets/css/style.css",
	"/assets/images/logo.png",
}

var defaultThirdPartyAssets = []string{
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css",
	"https://cdn.jsdelivr.net/npm/bootstrap-icons@1.11.0/font/bootstrap-icons.css",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/js/bootstrap.bundle.min.js",
}

var defaultCacheableEndpoints = []string{
	"/api/get-products.php",
	"/api/get-customers.php",
	"/api/get-categories.php",
	"/api/get-settings.php",
}

var defaultDynamicExtensions = []string{".php"}

var defaultStaticExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp",
	".woff", ".woff2", ".ttf", ".eot",
}

// DefaultDomains 返回内置的四个业务域：销售、订单、客户、库存。
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{
			Name:        "sales",
			Description: "point of sale checkout",
			Match:       []string{"/api/complete-sale.php"},
		},
		{
			Name:        "orders",
			Description: "restaurant and bar orders",
			Match:       []string{"/api/create-restaurant-order.php", "/api/complete-order.php"},
		},
		{
			Name:        "customers",
			Description: "customer records",
			Match:       []string{"/api/save-customer.php"},
		},
		{
			Name:        "inventory",
			Description: "item status and stock updates",
			Match:       []string{"/api/update-order-item-status.php", "/api/update-stock.php"},
		},
	}
}
