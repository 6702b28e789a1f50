// zsview is a simple CLI tool for browsing colstore files.
//
// Usage:
//
//	zsview <filename>                 # interactive page browser
//	zsview -l <filename>              # list page summary + metapage
//	zsview -l -t btree <filename>     # list one page table (btree|undo|toast)
//	zsview -p 8192 <filename>         # page size of the store file
//
// Interactive mode:
//
//	j/↓    scroll down
//	k/↑    scroll up
//	g      jump to first
//	G      jump to last
//	q/Esc  quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/blockfile"
	"github.com/colstore/colstore/inspect"
	"github.com/colstore/colstore/page"
)

func main() {
	listFlag := flag.Bool("l", false, "list mode (non-interactive)")
	tableFlag := flag.String("t", "", "page table to list: btree, undo or toast")
	sizeFlag := flag.Int("p", 8192, "page size of the store file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: zsview [-l] [-t table] [-p pagesize] <filename>")
		os.Exit(1)
	}

	file, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	store, err := blockfile.Open(readOnly{file}, *sizeFlag, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	in := inspect.New(store, nil)
	ctx := context.Background()

	lines, err := render(ctx, in, *tableFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *listFlag {
		for _, line := range lines {
			fmt.Println(line)
		}
		return
	}
	runInteractive(lines)
}

// readOnly adapts an os.File opened for reading; the viewer never writes.
type readOnly struct {
	*os.File
}

func (readOnly) WriteAt(p []byte, off int64) (int, error) {
	return 0, colstore.ErrReadOnly
}

func (readOnly) Truncate(size int64) error {
	return colstore.ErrReadOnly
}

func (f readOnly) Size() int64 {
	info, err := f.File.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func render(ctx context.Context, in *inspect.Inspector, table string) (lines []string, err error) {
	switch table {
	case "":
		return renderOverview(ctx, in)
	case "btree":
		return renderBtree(ctx, in)
	case "undo":
		return renderUndo(ctx, in)
	case "toast":
		return renderToast(ctx, in)
	}
	return nil, fmt.Errorf("unknown page table %q", table)
}

func renderOverview(ctx context.Context, in *inspect.Inspector) (lines []string, err error) {
	info, err := in.Meta(ctx)
	if err != nil {
		return
	}
	sum, err := in.Summarize(ctx)
	if err != nil {
		return
	}

	lines = append(lines,
		fmt.Sprintf("pages          %d", sum.NumPages),
		fmt.Sprintf("undo head      %s", pageNo(info.UndoHead)),
		fmt.Sprintf("undo tail      %s (first counter %d)", pageNo(info.UndoTail), info.UndoTailFirstCounter),
		fmt.Sprintf("oldest         counter %d, page %s", info.OldestCounter, pageNo(info.OldestPage)),
		fmt.Sprintf("free head      %s", pageNo(info.FreeHead)),
		"")
	for _, kind := range []page.Kind{page.KindMeta, page.KindBtree, page.KindUndo, page.KindToast, page.KindFree} {
		lines = append(lines, fmt.Sprintf("%-8s %6d", kind, sum.ByKind[kind]))
	}
	lines = append(lines, "")
	for _, root := range info.Roots {
		lines = append(lines, fmt.Sprintf("attr %3d  root %s", root.AttrNo, pageNo(root.Root)))
	}
	return
}

func renderBtree(ctx context.Context, in *inspect.Inspector) (lines []string, err error) {
	infos, err := in.BtreePages(ctx)
	if err != nil {
		return
	}
	lines = append(lines, fmt.Sprintf("%8s %6s %5s %20s %20s %10s %6s %6s",
		"page", "attr", "level", "lokey", "hikey", "next", "items", "free"))
	for _, p := range infos {
		items := fmt.Sprintf("%d", p.Items)
		if p.Items < 0 {
			items = "?"
		}
		lines = append(lines, fmt.Sprintf("%8d %6d %5d %20d %20d %10s %6s %6d",
			p.No, p.AttrNo, p.Level, p.LoKey, p.HiKey, pageNo(p.Next), items, p.Free))
	}
	return
}

func renderUndo(ctx context.Context, in *inspect.Inspector) (lines []string, err error) {
	infos, err := in.UndoPages(ctx)
	if err != nil {
		return
	}
	lines = append(lines, fmt.Sprintf("%8s %10s %8s %6s %6s %12s %12s",
		"page", "next", "records", "used", "free", "first", "last"))
	for _, p := range infos {
		lines = append(lines, fmt.Sprintf("%8d %10s %8d %6d %6d %12d %12d",
			p.No, pageNo(p.Next), p.Records, p.Used, p.Free, p.First.Counter, p.Last.Counter))
	}
	return
}

func renderToast(ctx context.Context, in *inspect.Inspector) (lines []string, err error) {
	infos, err := in.ToastPages(ctx)
	if err != nil {
		return
	}
	lines = append(lines, fmt.Sprintf("%8s %12s %10s %10s %10s %10s %6s %4s",
		"page", "rowid", "total", "offset", "prev", "next", "slice", "comp"))
	for _, p := range infos {
		comp := " "
		if p.Compressed {
			comp = "*"
		}
		lines = append(lines, fmt.Sprintf("%8d %12d %10d %10d %10s %10s %6d %4s",
			p.No, p.RowID, p.TotalSize, p.SliceOffset, pageNo(p.Prev), pageNo(p.Next), p.SliceSize, comp))
	}
	return
}

func pageNo(no colstore.PageNo) string {
	if no == colstore.InvalidPageNo {
		return "-"
	}
	return fmt.Sprintf("%d", no)
}

func runInteractive(lines []string) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		// not a terminal, fall back to plain output
		for _, line := range lines {
			fmt.Println(line)
		}
		return
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	fmt.Print("\033[?25l\033[2J")
	defer fmt.Print("\033[?25h\033[2J\033[H")

	reader := bufio.NewReader(os.Stdin)
	top := 0

	for {
		_, height, err := term.GetSize(int(os.Stdin.Fd()))
		if err != nil {
			height = 24
		}
		view := height - 2
		if view < 1 {
			view = 1
		}
		if top > len(lines)-view {
			top = len(lines) - view
		}
		if top < 0 {
			top = 0
		}
		draw(lines, top, view)

		b, err := reader.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case 'q', 3: // q, Ctrl+C
			return
		case 27: // Esc or arrow sequence
			if reader.Buffered() == 0 {
				return
			}
			if b2, _ := reader.ReadByte(); b2 == '[' {
				switch b3, _ := reader.ReadByte(); b3 {
				case 'A':
					top--
				case 'B':
					top++
				}
			}
		case 'j':
			top++
		case 'k':
			top--
		case 'g':
			top = 0
		case 'G':
			top = len(lines)
		}
	}
}

func draw(lines []string, top, view int) {
	var b strings.Builder
	b.WriteString("\033[H[ zsview ]\033[K\r\n")
	for i := top; i < top+view; i++ {
		if i < len(lines) {
			b.WriteString(lines[i])
		} else {
			b.WriteString("~")
		}
		b.WriteString("\033[K\r\n")
	}
	b.WriteString(" j/k:scroll g/G:jump q:quit\033[K")
	fmt.Print(b.String())
}
