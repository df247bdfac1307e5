package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// StreamTwiML builds the voice webhook response directing the carrier
// to open a bidirectional Media Stream to streamURL, passing the
// caller's number through as a custom stream parameter.
func StreamTwiML(streamURL, callerNumber string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="callerNumber" value="%s"/>
        </Stream>
    </Connect>
</Response>`, xmlAttr(streamURL), xmlAttr(callerNumber))
}

func xmlAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
