package browser

import (
	"encoding/json"
	"fmt"
)

// WrapScript turns a function body into an expression that applies it to
// args and never evaluates to undefined.
func WrapScript(source string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return fmt.Sprintf(
		"(function(){const __r=(function(){\n%s\n}).apply(null, %s);return __r===undefined?null:__r;})()",
		source, encoded,
	), nil
}

var (
	countScript = Script{
		Name:   "count",
		Source: `return document.querySelectorAll(arguments[0]).length;`,
	}

	clickScript = Script{
		Name: "click",
		Source: `
const el = document.querySelector(arguments[0]);
if (!el) return false;
try { el.scrollIntoView({block: 'center'}); } catch (e) {}
el.click();
return true;`,
	}

	outerHTMLScript = Script{
		Name: "outer_html",
		Source: `
const el = document.querySelector(arguments[0]);
return el ? el.outerHTML : null;`,
	}

	pageSourceScript = Script{
		Name:   "page_source",
		Source: `return document.documentElement ? document.documentElement.outerHTML : '';`,
	}
)
