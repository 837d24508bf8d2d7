// Copyright (c) Portbridge contributors. All rights reserved.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/portbridge/portbridge/pkg/logger"
)

var ErrInconsistentWrite = errors.New("write reported more bytes than were read")

type StreamResult struct {
	BytesRead                    int64
	BytesWritten                 int64
	LastSuccessfulReadTimestamp  time.Time
	LastSuccessfulWriteTimestamp time.Time
	ReadError                    error
	WriteError                   error
	ReadErrorTimestamp           time.Time
	WriteErrorTimestamp          time.Time
}

// StreamData copies bytes from source to dest until the source reports
// a terminal read error (including io.EOF), a write fails, or ctx is
// cancelled. Read deadlines are reset before every read so that the loop
// stays responsive to cancellation; a read deadline expiring is not an error.
func StreamData(ctx context.Context, bufferSize int, source DeadlineReader, dest DeadlineWriter, readTimeout time.Duration, writeTimeout time.Duration) *StreamResult {
	sr := &StreamResult{}

	buf := make([]byte, bufferSize)
	var deadlineErr error

	for {
		deadlineErr = source.SetReadDeadline(time.Now().Add(readTimeout))
		if deadlineErr != nil {
			sr.ReadErrorTimestamp = time.Now()
			sr.ReadError = deadlineErr
			return sr
		}

		in, readErr := source.Read(buf)
		sr.BytesRead += int64(in)
		if readErr == nil || errors.Is(readErr, io.EOF) {
			sr.LastSuccessfulReadTimestamp = time.Now()
		}

		if in > 0 {
			// Reset the write deadline after every read so that we aren't counting
			// time spent reading against time spent writing
			deadlineErr = dest.SetWriteDeadline(time.Now().Add(writeTimeout))
			if deadlineErr != nil {
				sr.WriteErrorTimestamp = time.Now()
				sr.WriteError = deadlineErr
				return sr
			}

			// If we read any data, always try to write it to the destination socket
			out, writeErr := dest.Write(buf[:in])
			sr.BytesWritten += int64(out)

			if out > in {
				sr.WriteErrorTimestamp = time.Now()
				sr.WriteError = ErrInconsistentWrite
				return sr
			}

			if errors.Is(writeErr, os.ErrDeadlineExceeded) {
				deadlineErr = dest.SetWriteDeadline(time.Now().Add(writeTimeout))
				if deadlineErr != nil {
					sr.WriteErrorTimestamp = time.Now()
					sr.WriteError = deadlineErr
					return sr
				}

				retryOut, retryWriteErr := dest.Write(buf[out:in])
				sr.BytesWritten += int64(retryOut)
				out += retryOut

				if retryWriteErr == nil {
					// If we recovered, ignore the previous error
					writeErr = nil
				} else {
					// If we failed on retry, report both errors
					writeErr = errors.Join(writeErr, retryWriteErr)
				}
			}

			if out != in {
				// Report a short write if we didn't write the expected amount of data
				writeErr = errors.Join(writeErr, io.ErrShortWrite)
			}

			if writeErr != nil {
				// If we encounter an unrecoverable write error, we should stop the stream
				sr.WriteErrorTimestamp = time.Now()
				sr.WriteError = writeErr
				return sr
			}

			sr.LastSuccessfulWriteTimestamp = time.Now()
		}

		if readErr != nil && !errors.Is(readErr, os.ErrDeadlineExceeded) {
			sr.ReadErrorTimestamp = time.Now()
			sr.ReadError = readErr
			// If we encounter an unrecoverable read error, we should stop the stream.
			// This can include expected errors such as io.EOF.
			return sr
		}

		select {
		case <-ctx.Done():
			// Cancellation, so stop what we're doing; report the context error as the read error
			sr.ReadErrorTimestamp = time.Now()
			sr.ReadError = ctx.Err()
			return sr
		default:
			continue
		}
	}
}

func (sr *StreamResult) LogProperties() map[string]string {
	return map[string]string{
		"BytesRead":           fmt.Sprint(sr.BytesRead),
		"BytesWritten":        fmt.Sprint(sr.BytesWritten),
		"LastSuccessfulRead":  logger.FriendlyTimestamp(sr.LastSuccessfulReadTimestamp),
		"LastSuccessfulWrite": logger.FriendlyTimestamp(sr.LastSuccessfulWriteTimestamp),
		"ReadError":           logger.FriendlyErrorString(sr.ReadError),
		"ReadErrorTimestamp":  logger.FriendlyTimestamp(sr.ReadErrorTimestamp),
		"WriteError":          logger.FriendlyErrorString(sr.WriteError),
		"WriteErrorTimestamp": logger.FriendlyTimestamp(sr.WriteErrorTimestamp),
	}
}

// Completed tells whether the stream ended for a benign reason
// (EOF from the source or context cancellation).
func (sr *StreamResult) Completed() bool {
	if sr.WriteError != nil {
		return false
	}
	if sr.ReadError == nil {
		return true
	}
	return errors.Is(sr.ReadError, io.EOF) ||
		errors.Is(sr.ReadError, context.Canceled) ||
		errors.Is(sr.ReadError, context.DeadlineExceeded)
}
