package config

// CurrentWPVersion is the reference WordPress version used by the
// compatibility-debt scoring bucket. Plugins tested against anything more
// than 0.5 behind this are considered to carry technical debt.
const CurrentWPVersion = 6.7

const (
	// MaxPoolSize caps the shared HTTP connection pool regardless of how
	// many workers a single scan or sync requests.
	MaxPoolSize = 50

	MaxScanWorkersNormal     = 5
	MaxScanWorkersAggressive = 50

	// MaxSyncPages bounds a single sync invocation.
	MaxSyncPages = 1000

	DefaultServerPort = 8080
)

// RiskyTags are category tags that indicate a larger attack surface.
// Matching is substring search across registry tags, lower-cased name and
// lower-cased short description.
var RiskyTags = []string{
	// E-commerce & payment
	"ecommerce", "woocommerce", "payment", "gateway", "stripe", "paypal", "checkout", "cart", "shop",

	// Forms & input
	"form", "contact", "input", "survey", "quiz", "poll", "booking", "reservation",

	// File operations
	"upload", "file", "image", "gallery", "media", "download", "import", "export", "backup",

	// User management
	"login", "register", "membership", "user", "profile", "admin", "role", "authentication",

	// Communication
	"chat", "ticket", "support", "comment", "review", "rating", "forum", "message",

	// API & database
	"api", "rest", "endpoint", "ajax", "query", "database", "sql", "db", "webhook",

	// Events & booking
	"calendar", "event", "appointment", "schedule",

	// Security & auth
	"oauth", "token", "sso", "ldap", "2fa", "captcha",

	// Custom post types
	"custom-post-type", "cpt", "meta", "field", "acf",
}

// UserFacingTags mark plugins that expose functionality to unauthenticated
// site visitors.
var UserFacingTags = []string{
	"chat", "contact", "form", "gallery", "slider", "calendar", "booking",
	"appointment", "event", "social", "share", "comment", "review", "forum",
	"membership", "profile", "login", "register", "ecommerce", "shop", "cart",
	"product", "checkout", "newsletter", "popup", "banner", "map", "faq",
	"survey", "poll", "quiz", "ticket", "support", "download", "frontend",
	"video", "audio", "player", "gamification", "badge", "points",
}

// UserInputTags is the small subset of tags that implies direct user input
// handling; the scorer adds a flat bonus when any matched tag is in here.
var UserInputTags = map[string]bool{
	"form":    true,
	"contact": true,
	"input":   true,
	"chat":    true,
	"comment": true,
	"review":  true,
	"upload":  true,
	"profile": true,
}

// SecurityKeywords flag changelog entries that mention security work.
var SecurityKeywords = map[string]bool{
	"xss": true, "sql": true, "injection": true, "security": true,
	"vulnerability": true, "exploit": true, "csrf": true, "rce": true,
	"ssrf": true, "lfi": true, "rfi": true, "idor": true, "xxe": true,
	"deserialization": true, "bypass": true, "fix": true, "patched": true,
	"sanitize": true, "escape": true, "harden": true, "cve-": true,
	"authorization": true, "nonce": true, "validation": true,
}

// FeatureKeywords flag changelog entries that introduce new attack surface.
var FeatureKeywords = map[string]bool{
	"added": true, "new": true, "feature": true, "introduced": true,
	"implementation": true, "shortcode": true, "widget": true,
	"export": true, "rest": true, "endpoint": true, "upload": true,
}

// DangerousFunctions are PHP call sites worth a manual look.
var DangerousFunctions = []string{
	"eval", "exec", "system", "shell_exec", "passthru", "popen", "proc_open",
	"pcntl_exec", "assert", "create_function", "unserialize", "file_get_contents",
	"file_put_contents", "fopen", "readfile", "include", "require",
	"include_once", "require_once", "call_user_func", "call_user_func_array",
}

// AjaxPatterns mark AJAX endpoint registration and usage.
var AjaxPatterns = []string{
	"wp_ajax_", "admin-ajax.php", "wp_ajax_nopriv_", "ajaxurl", "ajax_action",
	"wp_localize_script", "jQuery.post", "$.post", "$.ajax",
	"XMLHttpRequest", "fetch(", "wp.ajax",
}

// ThemePatterns mark theme-integration entry points.
var ThemePatterns = []string{
	"wp_head", "wp_footer", "get_header", "get_footer", "get_sidebar",
	"wp_enqueue_style", "wp_enqueue_script", "add_theme_support",
	"register_nav_menus", "wp_nav_menu", "dynamic_sidebar",
}

// FileOperationPatterns mark filesystem access from plugin code.
var FileOperationPatterns = []string{
	"move_uploaded_file", "fwrite", "fputs", "unlink", "mkdir", "rmdir",
	"copy(", "rename(", "tempnam", "tmpfile", "chmod", "file_exists",
	"wp_upload_dir", "wp_handle_upload",
}

// SQLPatterns mark direct database access.
var SQLPatterns = []string{
	"$wpdb->query", "$wpdb->get_results", "$wpdb->get_row", "$wpdb->get_var",
	"$wpdb->prepare", "mysql_query", "mysqli_query", "SELECT * FROM",
	"INSERT INTO", "UPDATE ", "DELETE FROM",
}

// NoncePatterns mark CSRF-token usage, a good-practice signal.
var NoncePatterns = []string{
	"wp_verify_nonce", "check_ajax_referer", "wp_create_nonce",
	"wp_nonce_field", "check_admin_referer",
}

// SanitizationGapPatterns mark raw superglobal access without the usual
// sanitization wrappers nearby. Line-oriented and deliberately cheap.
var SanitizationGapPatterns = []string{
	"$_GET[", "$_POST[", "$_REQUEST[", "$_COOKIE[", "$_SERVER[",
	"$_FILES[",
}

// SanitizationFunctions neutralize a sanitization-gap match when present on
// the same line.
var SanitizationFunctions = []string{
	"sanitize_text_field", "sanitize_email", "sanitize_key", "absint",
	"intval", "esc_attr", "esc_html", "esc_url", "wp_kses",
}
