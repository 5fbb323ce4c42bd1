package http1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// chunkedBody implements io.ReadCloser for Transfer-Encoding: chunked.
type chunkedBody struct {
	br       *bufio.Reader
	remain   int64
	finished bool
	maxLine  int // line limit for chunk header and trailer lines
}

func newChunkedBody(br *bufio.Reader, maxLine int) io.ReadCloser {
	return &chunkedBody{br: br, remain: -1, maxLine: maxLine}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	// If no remaining bytes in current chunk, read next chunk size
	if c.remain == -1 || c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			// Read and discard trailers until empty line
			if err := c.readTrailers(); err != nil {
				return 0, err
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	// Read up to remaining bytes in this chunk
	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := io.ReadFull(c.br, p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: truncated chunk", ErrMalformedResponse)
	}
	// If we consumed this chunk, expect CRLF boundary
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *chunkedBody) Close() error {
	// Drain to the terminating chunk so the reader position stays sane.
	buf := make([]byte, 1024)
	for !c.finished {
		_, err := c.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := readLine(c.br, c.maxLine)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("%w: empty chunk size", ErrMalformedResponse)
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: chunk size %q", ErrMalformedResponse, line)
	}
	return n, nil
}

func (c *chunkedBody) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("%w: expected CRLF after chunk", ErrMalformedResponse)
	}
	return nil
}

func (c *chunkedBody) readTrailers() error {
	for {
		line, err := readLine(c.br, c.maxLine)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if line == "" {
			return nil
		}
		// Trailer headers are ignored.
	}
}
