package tarpit

import (
	"encoding/base64"
	"fmt"
)

// Inline assets are base64-wrapped so naive scrapers burn cycles decoding
// them and content-matchers see different bytes than a browser renders.

const baseCSS = `body{font-family:Georgia,serif;max-width:52em;margin:2em auto;line-height:1.6;color:#1a1a1a}h1{border-bottom:1px solid #ddd}ul{list-style:square}a{color:#0645ad;text-decoration:none}`

const baseJS = `document.querySelectorAll('a').forEach(function(a){a.addEventListener('mouseover',function(){a.dataset.seen='1';});});`

// fingerprintJS probes the client environment; an HTML-only scraper never
// runs it, a headless browser does and logs itself.
const fingerprintJS = `(function(){var fp={ua:navigator.userAgent,sw:screen.width,sh:screen.height,tz:new Date().getTimezoneOffset(),hc:navigator.hardwareConcurrency||0,pl:Array.prototype.map.call(navigator.plugins||[],function(p){return p.name}),fo:(document.fonts&&document.fonts.size)||0};console.log('fp',JSON.stringify(fp));})();`

// obfuscatedCSS wraps the stylesheet in a base64 data-URI import.
func obfuscatedCSS() string {
	encoded := base64.StdEncoding.EncodeToString([]byte(baseCSS))
	return fmt.Sprintf("<style>@import url('data:text/css;base64,%s');</style>", encoded)
}

// obfuscatedJS wraps the script in an eval(atob(...)) shim.
func obfuscatedJS() string {
	encoded := base64.StdEncoding.EncodeToString([]byte(baseJS))
	return fmt.Sprintf("<script>eval(atob('%s'));</script>", encoded)
}

// fingerprintingJS wraps the heavier probe the same way.
func fingerprintingJS() string {
	encoded := base64.StdEncoding.EncodeToString([]byte(fingerprintJS))
	return fmt.Sprintf("<script>eval(atob('%s'));</script>", encoded)
}
