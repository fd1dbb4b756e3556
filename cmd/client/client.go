package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"mimir/internal/common"
	mimirnet "mimir/internal/net"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'log']")

	// Order Parameters
	idStr := flag.String("id", "1", "Order id, or comma-separated ids matching -qty")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "gtc", "Order type: 'gtc', 'gfd', 'fak', 'fok' or 'market'")
	price := flag.Int64("price", 100, "Limit price in ticks (ignored for market orders)")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	flag.Parse()

	// Validation
	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}
	orderType, err := parseOrderType(*typeStr)
	if err != nil {
		log.Fatal(err)
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		ids := parseUints(*idStr)
		quantities := parseUints(*qtyStr)
		if len(ids) != len(quantities) {
			log.Fatalf("Need one -id per -qty (%d ids, %d quantities)", len(ids), len(quantities))
		}
		for i, q := range quantities {
			err := sendSubmitOrder(conn, *owner, common.OrderID(ids[i]), orderType, side, common.Price(*price), common.Quantity(q))
			if err != nil {
				log.Printf("Failed to place order %d: %v", ids[i], err)
			} else {
				fmt.Printf("-> Sent %s %s order %d: %d @ %d\n", strings.ToUpper(*sideStr), orderType, ids[i], q, *price)
			}
		}

	case "cancel":
		ids := parseUints(*idStr)
		for _, id := range ids {
			if err := sendCancelOrder(conn, common.OrderID(id)); err != nil {
				log.Printf("Failed to send cancel for %d: %v", id, err)
			} else {
				fmt.Printf("-> Sent Cancel Request for order %d\n", id)
			}
		}

	case "modify":
		ids := parseUints(*idStr)
		quantities := parseUints(*qtyStr)
		if len(ids) != 1 || len(quantities) != 1 {
			log.Fatal("modify takes exactly one -id and one -qty")
		}
		err := sendModifyOrder(conn, common.OrderID(ids[0]), side, common.Price(*price), common.Quantity(quantities[0]))
		if err != nil {
			log.Printf("Failed to send modify: %v", err)
		} else {
			fmt.Printf("-> Sent Modify for order %d: %s %d @ %d\n", ids[0], *sideStr, quantities[0], *price)
		}

	case "log":
		if err := sendLog(conn); err != nil {
			log.Printf("Failed to send log request: %v", err)
		} else {
			fmt.Println("-> Sent Log Request")
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func parseOrderType(input string) (common.OrderType, error) {
	switch strings.ToLower(input) {
	case "gtc":
		return common.GoodTillCancel, nil
	case "gfd":
		return common.GoodForDay, nil
	case "fak":
		return common.FillAndKill, nil
	case "fok":
		return common.FillOrKill, nil
	case "market":
		return common.Market, nil
	}
	return 0, fmt.Errorf("unknown order type %q", input)
}

// parseUints splits a comma-separated string into a slice of uint64
func parseUints(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid value '%s', skipping.", p)
		}
	}
	return result
}

// sendSubmitOrder constructs and sends the SubmitOrder message
func sendSubmitOrder(conn net.Conn, owner string, id common.OrderID, orderType common.OrderType, side common.Side, price common.Price, qty common.Quantity) error {
	totalLen := mimirnet.BaseMessageHeaderLen + mimirnet.SubmitOrderMessageLen + len(owner)
	buf := make([]byte, totalLen)

	// 1. Header (TypeOf = SubmitOrder)
	binary.BigEndian.PutUint16(buf[0:2], uint16(mimirnet.SubmitOrder))

	// 2. Body
	binary.BigEndian.PutUint64(buf[2:10], uint64(id))
	binary.BigEndian.PutUint16(buf[10:12], uint16(orderType))
	buf[12] = byte(side)
	binary.BigEndian.PutUint64(buf[13:21], uint64(price))
	binary.BigEndian.PutUint64(buf[21:29], uint64(qty))
	buf[29] = uint8(len(owner))
	copy(buf[30:], owner)

	_, err := conn.Write(buf)
	return err
}

// sendCancelOrder constructs and sends the CancelOrder message
func sendCancelOrder(conn net.Conn, id common.OrderID) error {
	buf := make([]byte, mimirnet.BaseMessageHeaderLen+mimirnet.CancelOrderMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(mimirnet.CancelOrder))
	binary.BigEndian.PutUint64(buf[2:10], uint64(id))

	_, err := conn.Write(buf)
	return err
}

// sendModifyOrder constructs and sends the ModifyOrder message
func sendModifyOrder(conn net.Conn, id common.OrderID, side common.Side, price common.Price, qty common.Quantity) error {
	buf := make([]byte, mimirnet.BaseMessageHeaderLen+mimirnet.ModifyOrderMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(mimirnet.ModifyOrder))
	binary.BigEndian.PutUint64(buf[2:10], uint64(id))
	buf[10] = byte(side)
	binary.BigEndian.PutUint64(buf[11:19], uint64(price))
	binary.BigEndian.PutUint64(buf[19:27], uint64(qty))

	_, err := conn.Write(buf)
	return err
}

func sendLog(conn net.Conn) error {
	buf := make([]byte, mimirnet.BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(mimirnet.LogBook))
	_, err := conn.Write(buf)
	return err
}

// readReports continuously reads and parses Report messages from the server
func readReports(conn net.Conn) {
	for {
		// 1. Read Fixed Header
		headerBuf := make([]byte, mimirnet.ReportFixedHeaderLen)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		errStrLen := binary.BigEndian.Uint32(headerBuf[34:38])

		// 2. Read Variable Length Error String
		varBuf := make([]byte, errStrLen)
		if errStrLen > 0 {
			if _, err := io.ReadFull(conn, varBuf); err != nil {
				log.Printf("Error reading report body: %v", err)
				break
			}
		}

		report, err := mimirnet.ParseReport(append(headerBuf, varBuf...))
		if err != nil {
			log.Printf("Error parsing report: %v", err)
			continue
		}

		// 3. Print Report
		if report.MessageType == mimirnet.ErrorReport {
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
		} else {
			fmt.Printf("\n[EXECUTION] %s order %d | Qty: %d | Price: %d | vs order %d\n",
				strings.ToUpper(report.Side.String()), report.OrderID,
				report.Quantity, report.Price, report.CounterOrderID)
		}
	}
}
